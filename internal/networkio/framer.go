package networkio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raa-org/sevpn/internal/bytesx"
)

// keepAliveMagic distinguishes a keep-alive block from a data batch
// on the SoftEther TCP stream.
const keepAliveMagic = 0xFFFFFFFF

const (
	// maxBatchCount bounds the number of frames in a data batch.
	maxBatchCount = 8192

	// maxFrameSize bounds a single Ethernet payload on the stream.
	maxFrameSize = 65536

	// maxKeepAliveSize bounds the random padding of a keep-alive.
	maxKeepAliveSize = 65536
)

// ErrBadStream is returned when the TCP stream cannot be parsed.
var ErrBadStream = errors.New("networkio: malformed stream")

// StreamFramer demultiplexes the SoftEther TCP byte stream into whole
// Ethernet payloads. Feed it arbitrary-sized chunks: it buffers
// partial blocks across calls and only ever emits complete frames.
// Keep-alive blocks are consumed silently.
type StreamFramer struct {
	buf []byte
}

// NewStreamFramer creates a [StreamFramer].
func NewStreamFramer() *StreamFramer {
	return &StreamFramer{}
}

// Feed appends chunk to the internal buffer and returns all the whole
// frames that can be decoded. The returned slices are copies owned by
// the caller.
func (f *StreamFramer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		consumed, emitted, err := f.parseBlock()
		if err != nil {
			return frames, err
		}
		if consumed == 0 {
			return frames, nil
		}
		f.buf = f.buf[consumed:]
		frames = append(frames, emitted...)
	}
}

// parseBlock attempts to decode one whole block (keep-alive or data
// batch) from the head of the buffer. It returns the number of bytes
// consumed (zero when the block is still incomplete) and the frames
// emitted by the block.
func (f *StreamFramer) parseBlock() (int, [][]byte, error) {
	if len(f.buf) < 4 {
		return 0, nil, nil
	}
	head := binary.BigEndian.Uint32(f.buf[:4])

	if head == keepAliveMagic {
		if len(f.buf) < 8 {
			return 0, nil, nil
		}
		size := binary.BigEndian.Uint32(f.buf[4:8])
		if size > maxKeepAliveSize {
			return 0, nil, fmt.Errorf("%w: keep-alive size %d", ErrBadStream, size)
		}
		total := 8 + int(size)
		if len(f.buf) < total {
			return 0, nil, nil
		}
		return total, nil, nil
	}

	// Data batch: count then count length-prefixed frames.
	count := head
	if count == 0 || count > maxBatchCount {
		return 0, nil, fmt.Errorf("%w: batch count %d", ErrBadStream, count)
	}
	off := 4
	var frames [][]byte
	for i := uint32(0); i < count; i++ {
		if len(f.buf) < off+4 {
			return 0, nil, nil
		}
		length := binary.BigEndian.Uint32(f.buf[off : off+4])
		if length == 0 || length > maxFrameSize {
			return 0, nil, fmt.Errorf("%w: frame length %d", ErrBadStream, length)
		}
		off += 4
		if len(f.buf) < off+int(length) {
			return 0, nil, nil
		}
		frame := append([]byte(nil), f.buf[off:off+int(length)]...)
		frames = append(frames, frame)
		off += int(length)
	}
	return off, frames, nil
}

// WrapFrame encodes a single Ethernet payload as a one-frame data
// batch for the TCP channel.
func WrapFrame(frame []byte) []byte {
	out := make([]byte, 8+len(frame))
	binary.BigEndian.PutUint32(out[0:4], 1)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(frame)))
	copy(out[8:], frame)
	return out
}

// NewKeepAliveBlock returns a keep-alive block with 0..maxPadding-1
// random bytes of padding.
func NewKeepAliveBlock(maxPadding int) []byte {
	padding := bytesx.RandomPadding(maxPadding)
	out := make([]byte, 8+len(padding))
	binary.BigEndian.PutUint32(out[0:4], keepAliveMagic)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(padding)))
	copy(out[8:], padding)
	return out
}
