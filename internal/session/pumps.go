package session

import (
	"fmt"
	"time"

	mrand "math/rand"

	"github.com/raa-org/sevpn/internal/ethframe"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/networkio"
)

var serviceName = "session"

// tcpKeepAliveMin and tcpKeepAliveJitter bound the randomized 10-20s
// cadence of the TCP keep-alive frames.
const (
	tcpKeepAliveMin    = 10 * time.Second
	tcpKeepAliveJitter = 10 * time.Second

	// tcpKeepAlivePaddingMax bounds the random keep-alive payload.
	tcpKeepAlivePaddingMax = 512
)

// emitFrameTCP queues a frame for the TCP channel without blocking
// the session lane. ARP and DHCP frames are best-effort: dropping one
// under backpressure is recoverable.
func (m *Manager) emitFrameTCP(frame []byte) {
	select {
	case m.sessionToNetwork <- frame:
	default:
		m.logger.Warn("session: TCP queue full, dropping frame")
	}
}

// dispatchWorker is the server→TUN pump: it consumes Ethernet frames
// from both transports, classifies them, and drives the 1 Hz tick of
// the ARP resolver.
func (m *Manager) dispatchWorker() {
	workerName := fmt.Sprintf("%s: dispatchWorker", serviceName)

	defer func() {
		m.workersManager.OnWorkerDone(workerName)
		m.workersManager.StartShutdown()
	}()

	m.logger.Debugf("%s: started", workerName)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case frame := <-m.networkToSession:
			m.handleIncomingFrame(frame)

		case frame := <-m.udpFrames:
			m.handleIncomingFrame(frame)

		case <-ticker.C:
			m.mu.Lock()
			if m.resolver != nil && m.state == model.StateTunneling {
				m.resolver.Tick(time.Now())
			}
			m.mu.Unlock()

		case <-m.workersManager.ShouldShutdown():
			return
		}
	}
}

// handleIncomingFrame classifies one decoded Ethernet frame:
// ARP goes to the resolver, IPv4/IPv6 to the host flow, and the DHCP
// client additionally sees every frame while it is active.
func (m *Manager) handleIncomingFrame(raw []byte) {
	frame, err := ethframe.ParseFrame(raw)
	if err != nil {
		m.logger.Debugf("session: dropping frame: %s", err.Error())
		return
	}

	m.mu.Lock()
	var dhcpIncoming chan<- []byte
	if m.dhcpStarted {
		dhcpIncoming = m.dhcpSvc.IncomingFrame
	}
	resolver := m.resolver
	state := m.state
	flow := m.flow
	m.mu.Unlock()

	if dhcpIncoming != nil {
		select {
		case dhcpIncoming <- raw:
		default:
			// The DHCP client is saturated; it resends anyway.
		}
	}

	switch frame.Type {
	case ethframe.EtherTypeARP:
		if resolver != nil {
			m.mu.Lock()
			m.resolver.OnIncoming(frame.Payload, time.Now())
			m.mu.Unlock()
		}

	case ethframe.EtherTypeIPv4:
		if state == model.StateTunneling && flow != nil {
			if err := flow.WritePackets([][]byte{frame.Payload}, []model.Protocol{model.ProtocolIPv4}); err != nil {
				m.logger.Debugf("session: flow write: %s", err.Error())
			}
		}

	case ethframe.EtherTypeIPv6:
		if state == model.StateTunneling && flow != nil {
			if err := flow.WritePackets([][]byte{frame.Payload}, []model.Protocol{model.ProtocolIPv6}); err != nil {
				m.logger.Debugf("session: flow write: %s", err.Error())
			}
		}
	}
}

// flowRead is one batch read from the host flow.
type flowRead struct {
	packets   [][]byte
	protocols []model.Protocol
	err       error
}

// outboundWorker is the TUN→server pump: it reads IP packets from the
// host flow and routes each one onto exactly one transport. The
// blocking flow read runs in a detached goroutine so that a stalled
// host flow cannot delay the session teardown; a read completing
// after shutdown is simply dropped.
func (m *Manager) outboundWorker() {
	workerName := fmt.Sprintf("%s: outboundWorker", serviceName)

	defer func() {
		m.workersManager.OnWorkerDone(workerName)
		m.workersManager.StartShutdown()
	}()

	m.logger.Debugf("%s: started", workerName)

	reads := make(chan *flowRead)
	go func() {
		for {
			packets, protocols, err := m.flow.ReadPackets()
			select {
			case reads <- &flowRead{packets: packets, protocols: protocols, err: err}:
			case <-m.workersManager.ShouldShutdown():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case read := <-reads:
			if read.err != nil {
				m.logger.Infof("%s: ReadPackets: %s", workerName, read.err.Error())
				return
			}
			for i, packet := range read.packets {
				if i >= len(read.protocols) {
					break
				}
				if !m.routeOutbound(packet, read.protocols[i]) {
					return
				}
			}

		case <-m.workersManager.ShouldShutdown():
			return
		}
	}
}

// routeOutbound wraps one IP packet into an Ethernet frame and emits
// it. Returns false on shutdown.
func (m *Manager) routeOutbound(packet []byte, protocol model.Protocol) bool {
	m.mu.Lock()
	if m.state != model.StateTunneling || m.netParams == nil {
		m.mu.Unlock()
		return true
	}
	params := m.netParams
	engine := m.engine
	now := time.Now()

	var frame []byte
	switch protocol {
	case model.ProtocolIPv4:
		dst, err := ethframe.IPv4Destination(packet)
		if err != nil {
			m.mu.Unlock()
			m.logger.Debugf("session: outbound: %s", err.Error())
			return true
		}
		// Next hop: the destination itself when on-link, else the
		// gateway.
		target := dst
		if !ethframe.IsOnLink(dst, params.ClientIPv4, params.SubnetMask) && params.GatewayIPv4 != nil {
			target = params.GatewayIPv4
		}
		mac, ok := m.resolver.Resolve(target, now)
		if !ok {
			// Best effort: ask and still emit with a zero MAC.
			m.resolver.Request(target, now)
			mac = ethframe.ZeroMAC
		}
		frame = ethframe.BuildFrame(mac, m.clientMAC, ethframe.EtherTypeIPv4, packet)

	case model.ProtocolIPv6:
		// Forwarded opaquely when we know the gateway MAC; otherwise
		// dropped (the data plane is IPv4-only).
		if params.GatewayIPv4 == nil {
			m.mu.Unlock()
			return true
		}
		mac, ok := m.resolver.Resolve(params.GatewayIPv4, now)
		if !ok {
			m.mu.Unlock()
			return true
		}
		frame = ethframe.BuildFrame(mac, m.clientMAC, ethframe.EtherTypeIPv6, packet)

	default:
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	// Prefer the accelerated path when it is ready and pinned.
	if engine != nil && engine.TrySend(frame) {
		return true
	}
	select {
	case m.sessionToNetwork <- frame:
		return true
	case <-m.workersManager.ShouldShutdown():
		return false
	}
}

// tcpKeepAliveWorker emits the randomized TCP keep-alive frames while
// tunneling. This cadence is independent of the UDP keep-alive.
func (m *Manager) tcpKeepAliveWorker() {
	workerName := fmt.Sprintf("%s: tcpKeepAliveWorker", serviceName)

	defer func() {
		m.workersManager.OnWorkerDone(workerName)
	}()

	m.logger.Debugf("%s: started", workerName)

	for {
		delay := tcpKeepAliveMin + time.Duration(mrand.Int63n(int64(tcpKeepAliveJitter)))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			m.mu.Lock()
			conn := m.framedConn
			tunneling := m.state == model.StateTunneling
			m.mu.Unlock()
			if tunneling && conn != nil {
				if err := conn.WriteRaw(networkio.NewKeepAliveBlock(tcpKeepAlivePaddingMax)); err != nil {
					m.logger.Debugf("%s: %s", workerName, err.Error())
				}
			}

		case <-m.workersManager.ShouldShutdown():
			timer.Stop()
			return
		}
	}
}

// renewWorker tracks lease refreshes reported by the DHCP client.
func (m *Manager) renewWorker() {
	workerName := fmt.Sprintf("%s: renewWorker", serviceName)

	defer func() {
		m.workersManager.OnWorkerDone(workerName)
	}()

	for {
		select {
		case params := <-m.dhcpSvc.Renewed:
			m.mu.Lock()
			m.netParams = params
			m.mu.Unlock()
			m.logger.Infof("session: lease renewed (%s)", params.ClientIPv4)

		case <-m.workersManager.ShouldShutdown():
			return
		}
	}
}
