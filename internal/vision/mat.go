// Package vision holds the OpenCV stages of the pipeline: the counting
// analyzer and the pass-through encoder.
package vision

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"trafficcounter/internal/frame"
)

var (
	// ErrEncodingFailure means an output frame could not be serialized.
	ErrEncodingFailure = errors.New("encoding failure")
	// ErrEmptyRegion means the region of interest does not overlap the frame.
	ErrEmptyRegion = errors.New("region of interest outside frame")
)

// toBGR returns a new 3-channel BGR Mat holding f's pixels. The caller closes
// it. Raw payloads are copied so drawing never touches the published bytes.
func toBGR(f *frame.Frame) (gocv.Mat, error) {
	if f == nil || len(f.Data) == 0 {
		return gocv.NewMat(), errors.New("empty input frame")
	}

	if f.Encoding.Compressed() {
		mat, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil {
			return mat, errors.Wrapf(err, "decode %s frame", f.Encoding)
		}
		if mat.Empty() {
			return mat, errors.Errorf("decode %s frame: no image data", f.Encoding)
		}
		return mat, nil
	}

	var (
		matType gocv.MatType
		code    gocv.ColorConversionCode
		convert bool
	)
	switch f.Channels {
	case 1:
		matType, code, convert = gocv.MatTypeCV8UC1, gocv.ColorGrayToBGR, true
	case 3:
		matType = gocv.MatTypeCV8UC3
	case 4:
		matType, code, convert = gocv.MatTypeCV8UC4, gocv.ColorBGRAToBGR, true
	default:
		return gocv.NewMat(), errors.Errorf("unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Data) != want {
		return gocv.NewMat(), errors.Errorf("raw frame is %d bytes, want %d for %dx%dx%d",
			len(f.Data), want, f.Width, f.Height, f.Channels)
	}

	view, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, f.Data)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "wrap raw frame")
	}
	defer view.Close()

	if !convert {
		return view.Clone(), nil
	}
	out := gocv.NewMat()
	if err := gocv.CvtColor(view, &out, code); err != nil {
		out.Close()
		return gocv.NewMat(), errors.Wrap(err, "convert raw frame to BGR")
	}
	return out, nil
}

// encode serializes mat in the given transport encoding.
func encode(mat gocv.Mat, enc frame.Encoding) ([]byte, error) {
	if !enc.Compressed() {
		return nil, errors.Wrapf(ErrEncodingFailure, "%s is not a transport encoding", enc)
	}

	buf, err := gocv.IMEncode(gocv.FileExt(enc.Ext()), mat)
	if err != nil {
		return nil, errors.Wrapf(ErrEncodingFailure, "encode %s: %v", enc, err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	if len(data) == 0 {
		return nil, errors.Wrapf(ErrEncodingFailure, "encode %s: empty output", enc)
	}
	return data, nil
}
