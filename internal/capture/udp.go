package capture

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// UDPScheme prefixes identifiers served by UDPSource, e.g. "udp://:9000".
const UDPScheme = "udp://"

const (
	udpPacketSize  = 2048
	udpReadTimeout = 5 * time.Second
	maxUDPFrame    = 8 << 20
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// UDPSource receives JPEG frames that network cameras split across UDP
// datagrams. A datagram starting with a JPEG header begins a frame and one
// ending with the trailer completes it; senders are reassembled separately.
type UDPSource struct {
	conn     *net.UDPConn
	addr     string
	packet   []byte
	buffers  map[string]*bytes.Buffer
	released atomic.Bool
}

// OpenUDP listens on addr (host:port, host optional).
func OpenUDP(addr string) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "resolve %s: %v", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "listen on %s: %v", addr, err)
	}
	return &UDPSource{
		conn:    conn,
		addr:    conn.LocalAddr().String(),
		packet:  make([]byte, udpPacketSize),
		buffers: make(map[string]*bytes.Buffer),
	}, nil
}

// Addr returns the bound local address.
func (s *UDPSource) Addr() string {
	return s.addr
}

// NativeRate is unknown; cameras push at their own pace.
func (s *UDPSource) NativeRate() float64 {
	return 0
}

// ReadFrame blocks until a complete JPEG frame arrives from any sender.
func (s *UDPSource) ReadFrame() (*frame.Frame, error) {
	for {
		if s.released.Load() {
			return nil, source.ErrReleased
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(udpReadTimeout)); err != nil {
			if s.released.Load() {
				return nil, source.ErrReleased
			}
			return nil, errors.Wrapf(source.ErrReadFailure, "set deadline on %s: %v", s.addr, err)
		}
		n, remote, err := s.conn.ReadFromUDP(s.packet)
		if err != nil {
			if s.released.Load() {
				return nil, source.ErrReleased
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, errors.Wrapf(source.ErrReadFailure, "no frame on %s within %v", s.addr, udpReadTimeout)
			}
			return nil, errors.Wrapf(source.ErrReadFailure, "read %s: %v", s.addr, err)
		}

		sender := remote.IP.String()
		buf, ok := s.buffers[sender]
		if !ok {
			buf = new(bytes.Buffer)
			s.buffers[sender] = buf
		}

		data := s.packet[:n]
		if bytes.HasPrefix(data, jpegHeader) {
			buf.Reset()
		}
		if buf.Len()+n > maxUDPFrame {
			// lost the trailer somewhere; wait for the next header
			buf.Reset()
			continue
		}
		buf.Write(data)

		if !bytes.HasSuffix(data, jpegFooter) {
			continue
		}

		full := make([]byte, buf.Len())
		copy(full, buf.Bytes())
		buf.Reset()

		cfg, _, err := image.DecodeConfig(bytes.NewReader(full))
		if err != nil {
			// partial frame after packet loss
			continue
		}
		return &frame.Frame{
			Data:     full,
			Width:    cfg.Width,
			Height:   cfg.Height,
			Channels: 3,
			Encoding: frame.JPEG,
		}, nil
	}
}

// Release closes the socket, which also unblocks a pending read.
func (s *UDPSource) Release() error {
	if s.released.Swap(true) {
		return nil
	}
	return errors.Wrapf(s.conn.Close(), "close %s", s.addr)
}
