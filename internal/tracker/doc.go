// Package tracker holds the geometry and frame-to-frame identity matching used
// to count distinct moving objects.
//
// It does not track trajectories. Each call to Tracker.Update compares the
// centroids of the current frame with those retained from the previous frame;
// a current centroid with no previous centroid within the match distance is a
// new object and bumps the running total. The total never decreases.
//
// Everything here is plain Go so the counting rules can be exercised without
// OpenCV.
package tracker
