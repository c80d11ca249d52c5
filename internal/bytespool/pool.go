// Package bytespool provides buffer pooling for packet processing.
package bytespool

import (
	"sync"
)

// SlicePool pools []byte slices for packet operations. Tiers cover
// the tunnel MTU (1400), full Ethernet frames, and the largest UDP
// datagram we may drain from the accelerated socket.
type SlicePool struct {
	pools [4]sync.Pool
}

// Default is the global slice pool for packet buffers.
var Default = &SlicePool{
	pools: [4]sync.Pool{
		{New: func() any { b := make([]byte, 512); return &b }},
		{New: func() any { b := make([]byte, 2048); return &b }},
		{New: func() any { b := make([]byte, 8192); return &b }},
		{New: func() any { b := make([]byte, 65536); return &b }},
	},
}

// Get gets a byte slice of at least 'size' bytes from the pool.
// Returns a new slice if size exceeds pool capacity.
func (p *SlicePool) Get(size int) []byte {
	idx := p.poolIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	buf := p.pools[idx].Get().(*[]byte)
	return (*buf)[:size]
}

// Put returns a slice to the pool. Only slices with an exact tier
// capacity are accepted.
func (p *SlicePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	idx := p.poolIndexByCapacity(cap(buf))
	if idx < 0 {
		return
	}
	buf = buf[:cap(buf)]
	p.pools[idx].Put(&buf)
}

// poolIndex returns the pool index for a given size, or -1 if too large.
func (p *SlicePool) poolIndex(size int) int {
	switch {
	case size <= 512:
		return 0
	case size <= 2048:
		return 1
	case size <= 8192:
		return 2
	case size <= 65536:
		return 3
	default:
		return -1
	}
}

// poolIndexByCapacity returns the pool index for a given capacity, or
// -1 if not a valid tier size.
func (p *SlicePool) poolIndexByCapacity(cap int) int {
	switch cap {
	case 512:
		return 0
	case 2048:
		return 1
	case 8192:
		return 2
	case 65536:
		return 3
	default:
		return -1
	}
}
