// Package capture opens the concrete frame sources: OpenCV video captures for
// files, network streams and device indexes, UDP-pushed JPEG cameras, and V4L2
// webcams on Linux.
package capture

import (
	"strings"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/session"
	"trafficcounter/internal/source"
	"trafficcounter/internal/vision"
)

// WebcamScheme prefixes identifiers served by WebcamSource.
const WebcamScheme = "v4l2://"

// Open resolves identifier to a source. "v4l2:///dev/video0" opens a V4L2
// device directly, "udp://:9000" receives JPEG frames pushed by a network
// camera and anything else goes to OpenCV.
func Open(identifier string) (source.Source, error) {
	if addr, ok := strings.CutPrefix(identifier, UDPScheme); ok {
		udp, err := OpenUDP(addr)
		if err != nil {
			return nil, err
		}
		return udp, nil
	}
	if device, ok := strings.CutPrefix(identifier, WebcamScheme); ok {
		cam, err := OpenWebcam(device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}

	video, err := OpenVideo(identifier)
	if err != nil {
		return nil, err
	}
	return video, nil
}

// Snapshot opens identifier, reads exactly one frame, releases the source and
// returns the frame encoded as enc.
func Snapshot(identifier string, enc frame.Encoding) (*frame.Frame, error) {
	encoder, err := vision.NewEncoder(enc)
	if err != nil {
		return nil, err
	}
	src, err := Open(identifier)
	if err != nil {
		return nil, err
	}
	return session.Snapshot(src, encoder)
}
