package networkio

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/raa-org/sevpn/internal/bytespool"
)

// ErrServerClosed means the remote closed the control channel.
var ErrServerClosed = errors.New("networkio: server closed connection")

// FramedConn is the connection type used by the session: it reads and
// writes whole Ethernet payloads over the SoftEther TCP stream.
type FramedConn interface {
	// ReadFrames returns zero or more whole Ethernet payloads. A nil
	// slice with nil error means only keep-alives were consumed.
	ReadFrames() ([][]byte, error)

	// WriteFrame emits one Ethernet payload as a data batch.
	WriteFrame(frame []byte) error

	// WriteRaw writes a pre-framed block (keep-alives).
	WriteRaw(block []byte) error

	// Close closes the underlying connection.
	Close() error
}

// seConn wraps the TLS connection with SoftEther stream framing.
type seConn struct {
	net.Conn
	framer  *StreamFramer
	scratch []byte
}

var _ FramedConn = &seConn{}

// NewFramedConn wraps conn with SoftEther stream framing.
func NewFramedConn(conn net.Conn) FramedConn {
	return &seConn{
		Conn:    conn,
		framer:  NewStreamFramer(),
		scratch: make([]byte, 65536),
	}
}

// ReadFrames implements FramedConn.
func (c *seConn) ReadFrames() ([][]byte, error) {
	count, err := c.Conn.Read(c.scratch)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrServerClosed
		}
		return nil, err
	}
	if count == 0 {
		// Zero-byte reads are treated as a no-op keepalive.
		return nil, nil
	}
	return c.framer.Feed(c.scratch[:count])
}

// WriteFrame implements FramedConn.
func (c *seConn) WriteFrame(frame []byte) error {
	block := bytespool.Default.Get(8 + len(frame))
	defer bytespool.Default.Put(block)
	binary.BigEndian.PutUint32(block[0:4], 1)
	binary.BigEndian.PutUint32(block[4:8], uint32(len(frame)))
	copy(block[8:], frame)
	_, err := c.Conn.Write(block)
	return err
}

// WriteRaw implements FramedConn.
func (c *seConn) WriteRaw(block []byte) error {
	_, err := c.Conn.Write(block)
	return err
}
