package udpsession

import (
	"net"
)

// Readiness constants, in milliseconds.
const (
	// windowMs is the validity window for tick comparisons.
	windowMs = 30000

	// requireContinuousMs is how long a continuous-receive streak must
	// last before the data path is considered ready.
	requireContinuousMs = 10000

	// kaTimeoutMs is the keep-alive timeout.
	kaTimeoutMs = 9000

	// kaTimeoutFastMs is the keep-alive timeout in fast-detect mode.
	kaTimeoutFastMs = 2100
)

// tracker is the content-addressed readiness state of the data path.
// It is owned by the UDP lane.
type tracker struct {
	// lastRecvMyTick is the largest peer-ACK of our tick seen.
	lastRecvMyTick uint64

	// lastReceivedServerTick is the largest myTick observed from the peer.
	lastReceivedServerTick uint64

	// lastReceivedAtMs is when the last accepted packet arrived.
	lastReceivedAtMs uint64

	// lastRecvTickForReadyMs is when we last had a "valid" receive:
	// the peer ACKed our tick within the window.
	lastRecvTickForReadyMs uint64

	// firstStableReceiveTickMs is when the current continuous-receive
	// streak began; zero means no streak.
	firstStableReceiveTickMs uint64

	// lastSetSrcEndpointTick guards against pinning a stale source.
	lastSetSrcEndpointTick uint64
}

// onAccepted updates the tracker for a decrypted packet received at
// nowMs. Returns false when the packet is stale and must be dropped.
func (t *tracker) onAccepted(myTickFromPeer, yourTickFromPeer, nowMs uint64) bool {
	if myTickFromPeer < t.lastReceivedServerTick &&
		t.lastReceivedServerTick-myTickFromPeer >= windowMs {
		return false
	}
	if myTickFromPeer > t.lastReceivedServerTick {
		t.lastReceivedServerTick = myTickFromPeer
	}
	if yourTickFromPeer > t.lastRecvMyTick {
		t.lastRecvMyTick = yourTickFromPeer
	}
	t.lastReceivedAtMs = nowMs
	if t.lastRecvMyTick != 0 && t.lastRecvMyTick+windowMs >= nowMs {
		t.lastRecvTickForReadyMs = nowMs
		if t.firstStableReceiveTickMs == 0 {
			t.firstStableReceiveTickMs = nowMs
		}
	}
	return true
}

// mayPinSource reports whether the current packet's source address
// may be adopted as the pinned endpoint. Call after [onAccepted].
func (t *tracker) mayPinSource() bool {
	return t.lastSetSrcEndpointTick < t.lastReceivedServerTick
}

// sourcePinned records that we adopted the current source.
func (t *tracker) sourcePinned() {
	t.lastSetSrcEndpointTick = t.lastReceivedServerTick
}

// isReady reports whether the data path is live at nowMs.
func (t *tracker) isReady(nowMs uint64, kaTimeout uint64) bool {
	if t.lastRecvTickForReadyMs == 0 {
		return false
	}
	if nowMs > t.lastRecvTickForReadyMs+kaTimeout {
		return false
	}
	if t.firstStableReceiveTickMs == 0 {
		return false
	}
	return nowMs >= t.firstStableReceiveTickMs+requireContinuousMs
}

// onKeepAliveTimeout resets the stability streak so it must be
// re-accumulated before the path becomes ready again.
func (t *tracker) onKeepAliveTimeout() {
	t.firstStableReceiveTickMs = 0
}

// endpointBook holds the candidate server endpoints.
type endpointBook struct {
	// configured is the endpoint derived from the TCP peer address
	// and the advertised UDP port.
	configured *net.UDPAddr

	// reported is the server address reported in the Welcome pack,
	// which may differ from configured behind NAT.
	reported *net.UDPAddr

	// pinned is the source address last validated by a fresh receive.
	pinned *net.UDPAddr
}

// primary returns the preferred destination: pinned when available,
// otherwise configured.
func (b *endpointBook) primary() *net.UDPAddr {
	if b.pinned != nil {
		return b.pinned
	}
	return b.configured
}

// fallbacks returns the destinations other than primary, deduplicated.
func (b *endpointBook) fallbacks() []*net.UDPAddr {
	primary := b.primary()
	var out []*net.UDPAddr
	for _, candidate := range []*net.UDPAddr{b.pinned, b.configured, b.reported} {
		if candidate == nil || equalEndpoint(candidate, primary) {
			continue
		}
		duplicate := false
		for _, seen := range out {
			if equalEndpoint(candidate, seen) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, candidate)
		}
	}
	return out
}

// equalEndpoint compares endpoints by address bits and port.
func equalEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
