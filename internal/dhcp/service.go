package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/raa-org/sevpn/internal/bytesx"
	"github.com/raa-org/sevpn/internal/ethframe"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/workers"
	"github.com/raa-org/sevpn/pkg/config"
)

var (
	serviceName = "dhcp"

	// ErrTimeout means a phase exhausted its retry budget.
	ErrTimeout = errors.New("dhcp: timeout")

	// ErrNak means the server refused our request.
	ErrNak = errors.New("dhcp: request refused (NAK)")

	// ErrIncompleteConfig means the final ACK lacks yiaddr or the
	// subnet mask.
	ErrIncompleteConfig = errors.New("dhcp: incomplete configuration")
)

// clientState is the DHCP client state.
type clientState int

const (
	stateIdle = clientState(iota)
	stateSendingDiscover
	stateWaitingOffer
	stateWaitingAck
	stateBound
	stateRenewing
)

// String implements fmt.Stringer.
func (s clientState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSendingDiscover:
		return "sending-discover"
	case stateWaitingOffer:
		return "waiting-offer"
	case stateWaitingAck:
		return "waiting-ack"
	case stateBound:
		return "bound"
	case stateRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}

const (
	// resendInterval is how often an unanswered message is resent.
	resendInterval = 3 * time.Second

	// maxRetries is the per-phase retry budget.
	maxRetries = 4

	// defaultMTU is the tunnel MTU reported with the lease.
	defaultMTU = 1400
)

// Service is the DHCP client service. Make sure you initialize
// the channels before invoking [Service.StartWorkers].
type Service struct {
	// Start receives requests to (re)start the lease cycle.
	Start chan any

	// IncomingFrame receives every decoded Ethernet frame while the
	// client is active.
	IncomingFrame chan []byte

	// FrameDown moves outgoing Ethernet frames down to the TCP channel.
	FrameDown *chan []byte

	// Bound reports the network parameters of the initial lease.
	Bound chan *model.NetworkParameters

	// Renewed reports subsequent lease refreshes.
	Renewed chan *model.NetworkParameters

	// Failed reports a fatal failure of the initial cycle.
	Failed chan error
}

// StartWorkers starts the DHCP client worker.
func (svc *Service) StartWorkers(
	config *config.Config,
	workersManager *workers.Manager,
	clientMAC net.HardwareAddr,
) {
	ws := &workersState{
		logger:    config.Logger(),
		mac:       clientMAC,
		manager:   workersManager,
		start:     svc.Start,
		incoming:  svc.IncomingFrame,
		frameDown: *svc.FrameDown,
		bound:     svc.Bound,
		renewed:   svc.Renewed,
		failed:    svc.Failed,
		state:     stateIdle,
	}
	workersManager.StartWorker(ws.clientWorker)
}

// workersState contains the DHCP worker state. All fields are owned
// by the single clientWorker goroutine.
type workersState struct {
	logger    model.Logger
	mac       net.HardwareAddr
	manager   *workers.Manager
	start     <-chan any
	incoming  <-chan []byte
	frameDown chan<- []byte
	bound     chan<- *model.NetworkParameters
	renewed   chan<- *model.NetworkParameters
	failed    chan<- error

	state    clientState
	xid      uint32
	initial  bool
	retries  int
	sinceTx  time.Duration
	offered  net.IP
	serverID net.IP

	params     *model.NetworkParameters
	boundSince time.Duration
}

// clientWorker runs the DHCP state machine on a 1 Hz tick.
func (ws *workersState) clientWorker() {
	workerName := fmt.Sprintf("%s: clientWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		ws.manager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ws.start:
			ws.initial = true
			ws.params = nil
			if !ws.restartCycle() {
				return
			}

		case raw := <-ws.incoming:
			if !ws.handleFrame(raw) {
				return
			}

		case <-ticker.C:
			if !ws.tick() {
				return
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// restartCycle clears any prior lease and sends a fresh DISCOVER.
// Returns false on shutdown.
func (ws *workersState) restartCycle() bool {
	ws.xid = randomXID()
	ws.retries = 0
	ws.sinceTx = 0
	ws.offered = nil
	ws.serverID = nil
	ws.state = stateSendingDiscover
	ws.logger.Infof("dhcp: discover (xid=%08x)", ws.xid)
	if !ws.emit(newDiscover(ws.xid, ws.mac)) {
		return false
	}
	ws.state = stateWaitingOffer
	return true
}

// tick advances timers: resends, retry budgets and lease renewal.
// Returns false on shutdown.
func (ws *workersState) tick() bool {
	switch ws.state {
	case stateWaitingOffer, stateWaitingAck, stateRenewing:
		ws.sinceTx += time.Second
		if ws.sinceTx < resendInterval {
			return true
		}
		ws.sinceTx = 0
		ws.retries++
		if ws.retries > maxRetries {
			return ws.phaseTimedOut()
		}
		ws.logger.Debugf("dhcp: resend in %s (retry %d/%d)", ws.state, ws.retries, maxRetries)
		switch ws.state {
		case stateWaitingOffer:
			return ws.emit(newDiscover(ws.xid, ws.mac))
		case stateWaitingAck:
			return ws.emit(newRequest(ws.xid, ws.mac, ws.offered, ws.serverID))
		case stateRenewing:
			return ws.emit(newRenewRequest(ws.xid, ws.mac, ws.params.ClientIPv4, ws.serverID))
		}

	case stateBound:
		ws.boundSince += time.Second
		if ws.params != nil && ws.params.LeaseSeconds > 0 &&
			ws.boundSince >= time.Duration(ws.params.LeaseSeconds/2)*time.Second {
			ws.xid = randomXID()
			ws.retries = 0
			ws.sinceTx = 0
			ws.state = stateRenewing
			ws.logger.Infof("dhcp: renewing lease (xid=%08x)", ws.xid)
			return ws.emit(newRenewRequest(ws.xid, ws.mac, ws.params.ClientIPv4, ws.serverID))
		}
	}
	return true
}

// phaseTimedOut handles an exhausted retry budget. The initial cycle
// fails hard; a renewal failure falls back to a fresh DISCOVER.
func (ws *workersState) phaseTimedOut() bool {
	if ws.state == stateRenewing {
		ws.logger.Warn("dhcp: renewal timed out, restarting from discover")
		return ws.restartCycle()
	}
	ws.logger.Warnf("dhcp: %s timed out", ws.state)
	ws.state = stateIdle
	select {
	case ws.failed <- ErrTimeout:
	case <-ws.manager.ShouldShutdown():
		return false
	}
	return true
}

// handleFrame feeds one decoded Ethernet frame to the state machine.
// Returns false on shutdown.
func (ws *workersState) handleFrame(raw []byte) bool {
	frame, err := ethframe.ParseFrame(raw)
	if err != nil {
		return true
	}
	r, err := parseReply(frame)
	if err != nil {
		ws.logger.Debugf("dhcp: dropping frame: %s", err.Error())
		return true
	}
	if r == nil || r.xid != ws.xid {
		return true
	}

	switch {
	case r.msgType == msgOffer && ws.state == stateWaitingOffer:
		if r.yiaddr == nil || r.yiaddr.IsUnspecified() || r.serverID == nil {
			ws.logger.Debugf("dhcp: ignoring offer without yiaddr/server id")
			return true
		}
		ws.offered = r.yiaddr
		ws.serverID = r.serverID
		ws.retries = 0
		ws.sinceTx = 0
		ws.state = stateWaitingAck
		ws.logger.Infof("dhcp: offer %s from %s", r.yiaddr, r.serverID)
		return ws.emit(newRequest(ws.xid, ws.mac, ws.offered, ws.serverID))

	case r.msgType == msgAck && (ws.state == stateWaitingAck || ws.state == stateRenewing):
		return ws.handleAck(r)

	case r.msgType == msgNak && ws.state != stateIdle:
		ws.logger.Warnf("dhcp: NAK received in %s, restarting", ws.state)
		ws.params = nil
		return ws.restartCycle()
	}
	return true
}

// handleAck binds the lease and reports it.
func (ws *workersState) handleAck(r *reply) bool {
	if r.yiaddr == nil || r.yiaddr.IsUnspecified() || r.subnetMask == nil {
		ws.logger.Warn("dhcp: ACK without yiaddr or subnet mask")
		if ws.state == stateRenewing {
			return ws.restartCycle()
		}
		ws.state = stateIdle
		select {
		case ws.failed <- ErrIncompleteConfig:
		case <-ws.manager.ShouldShutdown():
			return false
		}
		return true
	}

	wasRenewing := ws.state == stateRenewing
	if r.serverID != nil {
		ws.serverID = r.serverID
	}
	ws.params = &model.NetworkParameters{
		ClientIPv4:   r.yiaddr,
		SubnetMask:   r.subnetMask,
		GatewayIPv4:  r.router,
		DNSServers:   r.dns,
		MTU:          defaultMTU,
		LeaseSeconds: r.lease,
	}
	ws.state = stateBound
	ws.boundSince = 0
	ws.logger.Infof("dhcp: bound %s/%s lease=%ds", r.yiaddr, net.IP(r.subnetMask), r.lease)

	report := ws.bound
	if wasRenewing || !ws.initial {
		report = ws.renewed
	}
	ws.initial = false
	select {
	case report <- ws.params:
	case <-ws.manager.ShouldShutdown():
		return false
	}
	return true
}

// emit sends a frame down to the TCP channel. Returns false on shutdown.
func (ws *workersState) emit(frame []byte) bool {
	select {
	case ws.frameDown <- frame:
		return true
	case <-ws.manager.ShouldShutdown():
		return false
	}
}

// randomXID returns a random transaction ID.
func randomXID() uint32 {
	b, err := bytesx.GenRandomBytes(4)
	if err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b)
}
