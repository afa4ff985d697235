package vision

import (
	"github.com/pkg/errors"

	"trafficcounter/internal/frame"
)

// Encoder is the pass-through processor: it only encodes frames for transport.
type Encoder struct {
	enc frame.Encoding
}

// NewEncoder returns an Encoder producing enc, which must be compressed.
func NewEncoder(enc frame.Encoding) (*Encoder, error) {
	if !enc.Compressed() {
		return nil, errors.Wrapf(ErrEncodingFailure, "%s is not a transport encoding", enc)
	}
	return &Encoder{enc: enc}, nil
}

// Process encodes f. Frames already in the target encoding are returned as is.
func (e *Encoder) Process(f *frame.Frame) (*frame.Frame, error) {
	if f != nil && f.Encoding == e.enc && len(f.Data) > 0 {
		return f, nil
	}

	mat, err := toBGR(f)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	data, err := encode(mat, e.enc)
	if err != nil {
		return nil, err
	}

	out := f.WithData(data, e.enc)
	out.Width, out.Height, out.Channels = mat.Cols(), mat.Rows(), mat.Channels()
	return out, nil
}
