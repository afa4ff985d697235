package tracker

import (
	"errors"
	"image"
	"math"
)

// ErrDegenerateRegion is returned for contours whose area is zero, such as a
// single point or a line of pixels. Callers skip the region.
var ErrDegenerateRegion = errors.New("degenerate region")

const degenerateEpsilon = 1e-7

// Centroid is the integer centre of a region, in ROI-local coordinates.
type Centroid struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Point converts c to an image.Point.
func (c Centroid) Point() image.Point {
	return image.Pt(c.X, c.Y)
}

// Distance is the Euclidean distance between two centroids.
func (c Centroid) Distance(o Centroid) float64 {
	return math.Hypot(float64(c.X-o.X), float64(c.Y-o.Y))
}

// Moments are the spatial moments of a closed contour.
type Moments struct {
	M00 float64
	M10 float64
	M01 float64
}

// PolygonMoments computes the zeroth and first order moments of the polygon
// described by points (implicitly closed). M00 is the enclosed area and is
// always non-negative regardless of winding order.
func PolygonMoments(points []image.Point) (Moments, error) {
	if len(points) < 3 {
		return Moments{}, ErrDegenerateRegion
	}

	var a00, a10, a01 float64
	prev := points[len(points)-1]
	for _, p := range points {
		xp, yp := float64(prev.X), float64(prev.Y)
		x, y := float64(p.X), float64(p.Y)
		cross := xp*y - x*yp
		a00 += cross
		a10 += cross * (xp + x)
		a01 += cross * (yp + y)
		prev = p
	}

	if math.Abs(a00) < degenerateEpsilon {
		return Moments{}, ErrDegenerateRegion
	}

	sign := 1.0
	if a00 < 0 {
		sign = -1.0
	}
	return Moments{
		M00: sign * a00 / 2,
		M10: sign * a10 / 6,
		M01: sign * a01 / 6,
	}, nil
}

// Centroid returns the moment centre truncated to integer coordinates.
func (m Moments) Centroid() (Centroid, error) {
	if m.M00 < degenerateEpsilon || math.IsNaN(m.M00) {
		return Centroid{}, ErrDegenerateRegion
	}
	cx := m.M10 / m.M00
	cy := m.M01 / m.M00
	if math.IsNaN(cx) || math.IsNaN(cy) || math.IsInf(cx, 0) || math.IsInf(cy, 0) {
		return Centroid{}, ErrDegenerateRegion
	}
	return Centroid{X: int(cx), Y: int(cy)}, nil
}

// Detection is one retained region.
type Detection struct {
	Bounds   image.Rectangle `json:"bounds"`
	Area     float64         `json:"area"`
	Centroid Centroid        `json:"centroid"`
}

// NewDetection builds a Detection from a contour outline.
func NewDetection(points []image.Point) (Detection, error) {
	m, err := PolygonMoments(points)
	if err != nil {
		return Detection{}, err
	}
	c, err := m.Centroid()
	if err != nil {
		return Detection{}, err
	}
	return Detection{
		Bounds:   boundingRect(points),
		Area:     m.M00,
		Centroid: c,
	}, nil
}

// boundingRect is the smallest rectangle containing every point, with
// exclusive Max like the rest of package image.
func boundingRect(points []image.Point) image.Rectangle {
	r := image.Rectangle{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// AreaFilter keeps regions whose area lies in [Min, Max].
type AreaFilter struct {
	Min float64
	Max float64
}

// Accept reports whether area is within the inclusive bounds.
func (f AreaFilter) Accept(area float64) bool {
	return area >= f.Min && area <= f.Max
}

// Centroids extracts the centroid of each detection, preserving order.
func Centroids(detections []Detection) []Centroid {
	out := make([]Centroid, len(detections))
	for i, d := range detections {
		out[i] = d.Centroid
	}
	return out
}
