package udpsession

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	mrand "math/rand"

	"github.com/raa-org/sevpn/internal/bytesx"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/workers"
)

var (
	serviceName = "udpsession"

	// ErrNotConfigured means the engine has no server parameters yet.
	ErrNotConfigured = errors.New("udpsession: not configured")

	// ErrBadParams means the Welcome acceleration block is unusable.
	ErrBadParams = errors.New("udpsession: bad acceleration parameters")
)

const (
	// clientKeyV1Size is the legacy key advertised for compatibility.
	clientKeyV1Size = 20

	// clientKeyV2Size is the V2 key block; only the first 32 bytes key
	// the AEAD.
	clientKeyV2Size = 128

	// keepAliveBaseMs is the keep-alive cadence base.
	keepAliveBaseMs = 1500

	// keepAliveBaseFastMs is the cadence base in fast-detect mode.
	keepAliveBaseFastMs = 700

	// keepAliveJitterMs is the random addition to the cadence base.
	keepAliveJitterMs = 800

	// ackMinIntervalMs rate-limits the immediate ACK of an inbound
	// keep-alive.
	ackMinIntervalMs = 250
)

// ServerParams is the acceleration block of the server Welcome.
type ServerParams struct {
	Version              uint32
	UseEncryption        bool
	UseHmac              bool
	FastDisconnectDetect bool
	ServerIP             net.IP
	ServerPort           uint16
	ServerCookie         uint32
	ClientCookie         uint32
	ServerKeyV2          []byte
}

// ClientInfo is what the client advertises in the auth pack.
type ClientInfo struct {
	LocalIP    net.IP
	LocalPort  uint16
	KeyV1      []byte
	KeyV2      []byte
	MaxVersion uint32
}

// Engine is the UDP acceleration engine. The engine owns the datagram
// socket, the crypto boxes, the readiness tracker and the endpoint
// book; its mutex realizes the UDP lane's serialized access.
type Engine struct {
	logger model.Logger

	mu sync.Mutex

	conn      *net.UDPConn
	localAddr *net.UDPAddr
	tcpPeer   *net.TCPAddr

	clientKeyV1 []byte
	clientKeyV2 []byte

	send *sealer
	recv *opener

	// sendCookie goes into outgoing packets; expectCookie must be
	// present in incoming ones.
	sendCookie   uint32
	expectCookie uint32

	fastDetect bool
	configured bool

	tracker tracker
	book    endpointBook

	lastAckSendMs uint64

	// clock returns monotonic milliseconds; injectable for tests.
	clock func() uint64

	epoch time.Time
}

// NewEngine creates the engine: it binds the socket, discovers the
// local address via the transient-connect dance, and generates the
// client key material advertised during the handshake.
func NewEngine(logger model.Logger, tcpPeer *net.TCPAddr) (*Engine, error) {
	conn, local, err := newAcceleratedSocket(tcpPeer)
	if err != nil {
		return nil, err
	}
	keyV1, err := bytesx.GenRandomBytes(clientKeyV1Size)
	if err != nil {
		conn.Close()
		return nil, err
	}
	keyV2, err := bytesx.GenRandomBytes(clientKeyV2Size)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := &Engine{
		logger:      logger,
		conn:        conn,
		localAddr:   local,
		tcpPeer:     tcpPeer,
		clientKeyV1: keyV1,
		clientKeyV2: keyV2,
		epoch:       time.Now(),
	}
	e.clock = e.monotonicMs
	logger.Infof("udpsession: socket bound, local endpoint %s", local)
	return e, nil
}

// monotonicMs returns milliseconds since the engine epoch, never zero.
func (e *Engine) monotonicMs() uint64 {
	ms := uint64(time.Since(e.epoch).Milliseconds())
	if ms == 0 {
		ms = 1
	}
	return ms
}

// ClientInfo returns the advertisement for the auth pack.
func (e *Engine) ClientInfo() *ClientInfo {
	return &ClientInfo{
		LocalIP:    e.localAddr.IP,
		LocalPort:  uint16(e.localAddr.Port),
		KeyV1:      e.clientKeyV1,
		KeyV2:      e.clientKeyV2,
		MaxVersion: 2,
	}
}

// Configure applies the server acceleration parameters from the
// Welcome pack and arms the crypto boxes.
func (e *Engine) Configure(params *ServerParams) error {
	defer e.mu.Unlock()
	e.mu.Lock()

	if params.Version < 2 {
		return fmt.Errorf("%w: version %d not supported", ErrBadParams, params.Version)
	}
	if params.ServerCookie == 0 || params.ClientCookie == 0 {
		return fmt.Errorf("%w: zero cookie", ErrBadParams)
	}
	if params.ServerPort == 0 {
		return fmt.Errorf("%w: zero port", ErrBadParams)
	}

	send, err := newSealer(e.clientKeyV2)
	if err != nil {
		return err
	}
	recv, err := newOpener(params.ServerKeyV2)
	if err != nil {
		return fmt.Errorf("%w: server key: %s", ErrBadParams, err)
	}

	e.send = send
	e.recv = recv
	e.sendCookie = params.ServerCookie
	e.expectCookie = params.ClientCookie
	e.fastDetect = params.FastDisconnectDetect

	e.book.configured = &net.UDPAddr{IP: e.tcpPeer.IP, Port: int(params.ServerPort)}
	if ip4 := params.ServerIP.To4(); ip4 != nil && !ip4.IsUnspecified() {
		e.book.reported = &net.UDPAddr{IP: ip4, Port: int(params.ServerPort)}
	}
	e.configured = true

	e.logger.Infof("udpsession: configured, server %s (fast-detect=%v)",
		e.book.configured, e.fastDetect)
	return nil
}

// StartWorkers starts the receive loop and the keep-alive worker.
// Decoded nonempty payloads (Ethernet frames) are delivered on
// frameUp, which enqueues into the session lane.
func (e *Engine) StartWorkers(manager *workers.Manager, frameUp chan<- []byte) {
	ws := &engineWorkers{
		engine:  e,
		frameUp: frameUp,
		manager: manager,
	}
	manager.StartWorker(ws.receiveWorker)
	manager.StartWorker(ws.keepAliveWorker)
	manager.StartWorker(ws.closeWorker)
}

// IsReady reports whether the data path is usable right now.
func (e *Engine) IsReady() bool {
	defer e.mu.Unlock()
	e.mu.Lock()
	return e.configured && e.tracker.isReady(e.clock(), e.kaTimeout())
}

// TrySend emits one Ethernet frame on the data path. It returns false
// when the path is not ready or not pinned, in which case the caller
// must fall back to the TCP channel.
func (e *Engine) TrySend(frame []byte) bool {
	defer e.mu.Unlock()
	e.mu.Lock()
	if !e.configured {
		return false
	}
	now := e.clock()
	if !e.tracker.isReady(now, e.kaTimeout()) || e.book.pinned == nil {
		return false
	}
	e.sendPacketLocked(e.book.pinned, frame, now)
	return true
}

// Close closes the datagram socket.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// kaTimeout returns the applicable keep-alive timeout.
func (e *Engine) kaTimeout() uint64 {
	if e.fastDetect {
		return kaTimeoutFastMs
	}
	return kaTimeoutMs
}

// sendPacketLocked seals and emits one packet. Send failures on the
// data path are logged and swallowed: the TCP channel is the backstop.
func (e *Engine) sendPacketLocked(dst *net.UDPAddr, payload []byte, nowMs uint64) {
	plaintext := marshalInner(e.sendCookie, nowMs, e.tracker.lastReceivedServerTick, 0, payload)
	wire := e.send.Seal(plaintext)
	if _, err := e.conn.WriteToUDP(wire, dst); err != nil {
		e.logger.Debugf("udpsession: send to %s: %s", dst, err.Error())
	}
}

// sendKeepAliveLocked emits an empty-payload packet to dst.
func (e *Engine) sendKeepAliveLocked(dst *net.UDPAddr, nowMs uint64) {
	e.sendPacketLocked(dst, nil, nowMs)
}

// keepAliveRound sends the periodic keep-alives: one to the primary
// destination and, while not ready, to every fallback destination.
func (e *Engine) keepAliveRound() {
	defer e.mu.Unlock()
	e.mu.Lock()
	if !e.configured {
		return
	}
	now := e.clock()

	// Silent loss of keep-alives demotes the path: the stability
	// streak must be re-accumulated.
	if e.tracker.lastRecvTickForReadyMs != 0 &&
		now > e.tracker.lastRecvTickForReadyMs+e.kaTimeout() {
		e.tracker.onKeepAliveTimeout()
	}

	primary := e.book.primary()
	if primary == nil {
		return
	}
	e.sendKeepAliveLocked(primary, now)
	if !e.tracker.isReady(now, e.kaTimeout()) {
		for _, dst := range e.book.fallbacks() {
			e.sendKeepAliveLocked(dst, now)
		}
	}
}

// handleDatagram processes one received datagram. Nonempty payloads
// are returned to the caller for dispatch into the session lane.
func (e *Engine) handleDatagram(wire []byte, src *net.UDPAddr) []byte {
	defer e.mu.Unlock()
	e.mu.Lock()
	if !e.configured {
		return nil
	}

	plaintext, err := e.recv.Open(wire)
	if err != nil {
		e.logger.Debugf("udpsession: %s", err.Error())
		return nil
	}
	inner, err := parseInner(plaintext)
	if err != nil {
		e.logger.Debugf("udpsession: %s", err.Error())
		return nil
	}
	if inner.cookie != e.expectCookie {
		e.logger.Debugf("udpsession: %s", ErrBadCookie.Error())
		return nil
	}

	now := e.clock()
	if !e.tracker.onAccepted(inner.myTick, inner.yourTick, now) {
		e.logger.Debugf("udpsession: dropping stale packet (tick=%d)", inner.myTick)
		return nil
	}

	if e.tracker.mayPinSource() {
		if !equalEndpoint(e.book.pinned, src) {
			e.logger.Infof("udpsession: pinning endpoint %s", src)
		}
		e.book.pinned = &net.UDPAddr{IP: src.IP, Port: src.Port}
		e.tracker.sourcePinned()
	}

	if len(inner.payload) == 0 {
		// Keep-alive: answer immediately, rate-limited.
		if now >= e.lastAckSendMs+ackMinIntervalMs {
			e.lastAckSendMs = now
			if primary := e.book.primary(); primary != nil {
				e.sendKeepAliveLocked(primary, now)
			}
		}
		return nil
	}
	return append([]byte(nil), inner.payload...)
}

// engineWorkers holds the worker-side state.
type engineWorkers struct {
	engine  *Engine
	frameUp chan<- []byte
	manager *workers.Manager
}

// receiveWorker drains the socket and dispatches decoded frames.
func (ws *engineWorkers) receiveWorker() {
	workerName := fmt.Sprintf("%s: receiveWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		// Unlike the TCP workers, losing the UDP socket must not tear
		// the session down: the TCP channel remains the backstop.
	}()

	ws.engine.logger.Debugf("%s: started", workerName)

	buf := make([]byte, 65536)
	for {
		count, src, err := ws.engine.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			ws.engine.logger.Debugf("%s: %s", workerName, err.Error())
			continue
		}
		frame := ws.engine.handleDatagram(buf[:count], src)
		if frame == nil {
			continue
		}
		select {
		case ws.frameUp <- frame:
		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// keepAliveWorker fires a one-shot timer at base+rand(0..800) ms and
// sends the periodic keep-alives.
func (ws *engineWorkers) keepAliveWorker() {
	workerName := fmt.Sprintf("%s: keepAliveWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
	}()

	ws.engine.logger.Debugf("%s: started", workerName)

	for {
		base := keepAliveBaseMs
		if ws.engine.fastDetect {
			base = keepAliveBaseFastMs
		}
		delay := time.Duration(base+mrand.Intn(keepAliveJitterMs)) * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			ws.engine.keepAliveRound()
		case <-ws.manager.ShouldShutdown():
			timer.Stop()
			return
		}
	}
}

// closeWorker closes the socket when a shutdown starts, unblocking
// the receive worker.
func (ws *engineWorkers) closeWorker() {
	workerName := fmt.Sprintf("%s: closeWorker", serviceName)
	defer func() {
		ws.manager.OnWorkerDone(workerName)
	}()
	<-ws.manager.ShouldShutdown()
	ws.engine.conn.Close()
}
