package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/tracker"
)

// Options configure an Analyzer. Geometry is in pixels.
type Options struct {
	RegionOfInterest image.Rectangle
	MinArea          float64
	MaxArea          float64
	MaxDistance      float64
	KernelSize       int
	Threshold        float32
	Encoding         frame.Encoding
}

// DefaultOptions are tuned for a 1024 pixel wide highway camera.
func DefaultOptions() Options {
	return Options{
		RegionOfInterest: image.Rect(0, 400, 1024, 600),
		MinArea:          1000,
		MaxArea:          50000,
		MaxDistance:      tracker.DefaultMaxDistance,
		KernelSize:       5,
		Threshold:        220,
		Encoding:         frame.JPEG,
	}
}

var (
	outlineColor  = color.RGBA{G: 255}
	boxColor      = color.RGBA{B: 255}
	centroidColor = color.RGBA{R: 255}
	counterColor  = color.RGBA{R: 200, G: 200, B: 200}
)

// Analyzer counts moving objects crossing the region of interest. It keeps
// the background model and tracker state for one stream and must only be used
// from one goroutine.
type Analyzer struct {
	opts    Options
	filter  tracker.AreaFilter
	tracker *tracker.Tracker

	subtractor gocv.BackgroundSubtractorMOG2
	kernel     gocv.Mat
	gray       gocv.Mat
	mask       gocv.Mat
	hierarchy  gocv.Mat
	closed     bool
}

// NewAnalyzer creates an analyzer with an empty background model and a zero count.
func NewAnalyzer(opts Options) (*Analyzer, error) {
	if opts.RegionOfInterest.Empty() {
		return nil, errors.Wrapf(ErrEmptyRegion, "%v", opts.RegionOfInterest)
	}
	if opts.KernelSize < 1 {
		return nil, errors.Errorf("kernel size %d must be at least 1", opts.KernelSize)
	}
	if !opts.Encoding.Compressed() {
		return nil, errors.Wrapf(ErrEncodingFailure, "%s is not a transport encoding", opts.Encoding)
	}

	return &Analyzer{
		opts:       opts,
		filter:     tracker.AreaFilter{Min: opts.MinArea, Max: opts.MaxArea},
		tracker:    tracker.New(opts.MaxDistance),
		subtractor: gocv.NewBackgroundSubtractorMOG2(),
		kernel:     gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(opts.KernelSize, opts.KernelSize)),
		gray:       gocv.NewMat(),
		mask:       gocv.NewMat(),
		hierarchy:  gocv.NewMat(),
	}, nil
}

// Process runs one frame through the pipeline and returns the annotated
// region of interest, encoded, with the detection count and running total
// attached as Stats.
func (a *Analyzer) Process(f *frame.Frame) (*frame.Frame, error) {
	if a.closed {
		return nil, errors.New("analyzer closed")
	}

	img, err := toBGR(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	bounds := a.opts.RegionOfInterest.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if bounds.Empty() {
		return nil, errors.Wrapf(ErrEmptyRegion, "%v in %dx%d frame", a.opts.RegionOfInterest, img.Cols(), img.Rows())
	}
	roi := img.Region(bounds)
	defer roi.Close()

	detections, contours, err := a.detect(roi)
	if err != nil {
		return nil, err
	}
	defer contours.Close()

	result := a.tracker.Update(tracker.Centroids(detections))

	if err := a.annotate(&roi, contours, detections, result.Total); err != nil {
		return nil, err
	}

	data, err := encode(roi, a.opts.Encoding)
	if err != nil {
		return nil, err
	}

	out := f.WithData(data, a.opts.Encoding)
	out.Width, out.Height, out.Channels = bounds.Dx(), bounds.Dy(), roi.Channels()
	out.Stats = &frame.Stats{Detections: len(detections), Total: result.Total}
	return out, nil
}

// detect segments the foreground of roi and returns the retained detections
// along with the contours they came from. The caller closes the contours.
func (a *Analyzer) detect(roi gocv.Mat) ([]tracker.Detection, gocv.PointsVector, error) {
	if err := gocv.CvtColor(roi, &a.gray, gocv.ColorBGRToGray); err != nil {
		return nil, gocv.PointsVector{}, errors.Wrap(err, "convert to grayscale")
	}
	if err := a.subtractor.Apply(a.gray, &a.mask); err != nil {
		return nil, gocv.PointsVector{}, errors.Wrap(err, "subtract background")
	}
	if err := gocv.MorphologyEx(a.mask, &a.mask, gocv.MorphClose, a.kernel); err != nil {
		return nil, gocv.PointsVector{}, errors.Wrap(err, "close mask")
	}
	if err := gocv.MorphologyEx(a.mask, &a.mask, gocv.MorphOpen, a.kernel); err != nil {
		return nil, gocv.PointsVector{}, errors.Wrap(err, "open mask")
	}
	if err := gocv.Dilate(a.mask, &a.mask, a.kernel); err != nil {
		return nil, gocv.PointsVector{}, errors.Wrap(err, "dilate mask")
	}
	// shadows are marked 127 by MOG2 and drop out here
	gocv.Threshold(a.mask, &a.mask, a.opts.Threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContoursWithParams(a.mask, &a.hierarchy, gocv.RetrievalTree, gocv.ChainApproxSimple)

	var detections []tracker.Detection
	for i := 0; i < contours.Size(); i++ {
		if !a.outermost(i) {
			continue
		}
		d, err := tracker.NewDetection(contours.At(i).ToPoints())
		if err != nil {
			// degenerate outlines are skipped
			continue
		}
		if !a.filter.Accept(d.Area) {
			continue
		}
		detections = append(detections, d)
	}
	return detections, contours, nil
}

// outermost reports whether contour i has no enclosing contour.
func (a *Analyzer) outermost(i int) bool {
	if a.hierarchy.Empty() {
		return true
	}
	return a.hierarchy.GetVeciAt(0, i)[3] == -1
}

func (a *Analyzer) annotate(roi *gocv.Mat, contours gocv.PointsVector, detections []tracker.Detection, total uint64) error {
	for i := 0; i < contours.Size(); i++ {
		if !a.outermost(i) {
			continue
		}
		if err := gocv.DrawContours(roi, contours, i, outlineColor, 2); err != nil {
			return errors.Wrap(err, "draw outline")
		}
	}

	for _, d := range detections {
		c := d.Centroid.Point()
		if err := gocv.Rectangle(roi, d.Bounds, boxColor, 2); err != nil {
			return errors.Wrap(err, "draw bounding box")
		}
		if err := gocv.Circle(roi, c, 3, centroidColor, -1); err != nil {
			return errors.Wrap(err, "draw centroid")
		}
		label := fmt.Sprintf("%d,%d", c.X, c.Y)
		if err := gocv.PutText(roi, label, c.Add(image.Pt(10, 10)), gocv.FontHersheySimplex, 0.3, centroidColor, 1); err != nil {
			return errors.Wrap(err, "draw centroid label")
		}
	}

	label := fmt.Sprintf("Cars: %d", total)
	if err := gocv.PutText(roi, label, image.Pt(5, 30), gocv.FontHersheySimplex, 1.0, counterColor, 2); err != nil {
		return errors.Wrap(err, "draw counter")
	}
	return nil
}

// Count returns the running total. Like Process it must be called from the
// goroutine that owns the analyzer.
func (a *Analyzer) Count() uint64 {
	return a.tracker.Count()
}

// Close releases the OpenCV resources. Further Process calls fail.
func (a *Analyzer) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	a.subtractor.Close()
	a.kernel.Close()
	a.gray.Close()
	a.mask.Close()
	a.hierarchy.Close()
	return nil
}
