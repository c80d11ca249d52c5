// Package session implements the session orchestrator: the state
// machine driving the TLS control channel, the SoftEther handshake,
// the embedded DHCP exchange, and the bidirectional packet pumps.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/raa-org/sevpn/internal/arp"
	"github.com/raa-org/sevpn/internal/dhcp"
	"github.com/raa-org/sevpn/internal/handshake"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/networkio"
	"github.com/raa-org/sevpn/internal/udpsession"
	"github.com/raa-org/sevpn/internal/workers"
	"github.com/raa-org/sevpn/pkg/config"
)

var (
	// ErrBadState means an operation was invoked in the wrong state.
	ErrBadState = errors.New("session: operation not allowed in this state")

	// ErrConnect wraps TLS/TCP connection failures.
	ErrConnect = errors.New("session: connect failed")

	// ErrSettingsApply wraps failures to apply the tunnel settings to
	// the host.
	ErrSettingsApply = errors.New("session: cannot apply network settings")

	// ErrTransportClosed means the control channel went away
	// mid-session.
	ErrTransportClosed = errors.New("session: transport closed")
)

// channelDepth is the buffering of the inter-worker channels.
const channelDepth = 64

// Manager owns the session. The zero value is invalid; construct
// with [NewManager]. Public operations must be called sequentially;
// the internal mutex serializes the session lane against the worker
// callbacks.
type Manager struct {
	logger  model.Logger
	config  *config.Config
	options *config.SessionOptions

	// applier receives the network settings once DHCP binds. May be
	// nil when the host does not take settings.
	applier model.SettingsApplier

	// mu serializes all mutable session state.
	mu sync.Mutex

	state model.SessionState

	// clientMAC is the locally-administered MAC of this session.
	clientMAC net.HardwareAddr

	// rawConn is the TLS connection; framedConn wraps it once the
	// handshake is over. There is exactly one secure connection.
	rawConn    net.Conn
	framedConn networkio.FramedConn

	// workersManager controls all workers of this session.
	workersManager *workers.Manager

	// channels wiring the services together
	sessionToNetwork chan []byte
	networkToSession chan []byte
	udpFrames        chan []byte

	netSvc  *networkio.Service
	dhcpSvc *dhcp.Service

	// engine is the UDP acceleration engine, nil unless granted.
	engine *udpsession.Engine

	// resolver is the ARP resolver, created when tunneling starts.
	resolver *arp.Resolver

	// params is the Welcome session descriptor.
	params *handshake.SessionParameters

	// netParams is the DHCP result.
	netParams *model.NetworkParameters

	// flow is the host packet flow while tunneling.
	flow model.HostFlow

	dhcpStarted bool
}

// NewManager creates a [Manager].
func NewManager(cfg *config.Config, applier model.SettingsApplier) (*Manager, error) {
	mac, err := newClientMAC()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		logger:         cfg.Logger(),
		config:         cfg,
		options:        cfg.SessionOptions(),
		applier:        applier,
		state:          model.StateIdle,
		clientMAC:      mac,
		workersManager: workers.NewManager(cfg.Logger()),
	}
	m.logger.Infof("session: client MAC %s", mac)
	return m, nil
}

// State returns the current session state.
func (m *Manager) State() model.SessionState {
	defer m.mu.Unlock()
	m.mu.Lock()
	return m.state
}

// setState transitions the state, logging the edge.
func (m *Manager) setState(next model.SessionState) {
	m.logger.Infof("session: [@] %s -> %s", m.state, next)
	m.state = next
}

// requireState returns ErrBadState unless the state matches.
func (m *Manager) requireState(want model.SessionState) error {
	if m.state != want {
		return fmt.Errorf("%w: in %s, need %s", ErrBadState, m.state, want)
	}
	return nil
}

// Connect dials the server and performs the TLS handshake. On
// success the session is ready for the in-band handshake.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if err := m.requireState(model.StateIdle); err != nil {
		m.mu.Unlock()
		return err
	}
	m.setState(model.StateTLSHandshaking)
	m.mu.Unlock()

	conn, err := networkio.NewDialer(m.config).DialContext(ctx)
	if err != nil {
		m.Stop()
		return fmt.Errorf("%w: %s", ErrConnect, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateTLSHandshaking {
		conn.Close()
		return fmt.Errorf("%w: stopped while connecting", ErrBadState)
	}
	m.rawConn = conn
	m.setState(model.StateSoftEtherHandshaking)
	return nil
}

// Handshake runs Hello/Auth/Welcome and, when the Welcome grants UDP
// acceleration v2, arms the UDP engine. On success the session is
// established and the stream framer takes over the connection.
func (m *Manager) Handshake(auth *handshake.Auth) error {
	m.mu.Lock()
	if err := m.requireState(model.StateSoftEtherHandshaking); err != nil {
		m.mu.Unlock()
		return err
	}
	conn := m.rawConn
	m.mu.Unlock()

	hello, err := handshake.Hello(conn, m.logger, m.options)
	if err != nil {
		m.Stop()
		return err
	}

	// Create the UDP engine before authenticating so that the auth
	// pack can advertise our datagram endpoint and keys.
	var engine *udpsession.Engine
	var clientInfo *udpsession.ClientInfo
	if m.options.UDPAccelEnabled {
		if tcpPeer, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			engine, err = udpsession.NewEngine(m.logger, tcpPeer)
			if err != nil {
				m.logger.Warnf("session: UDP acceleration unavailable: %s", err.Error())
			} else {
				clientInfo = engine.ClientInfo()
			}
		}
	}

	params, err := handshake.Authenticate(conn, m.logger, m.options, auth, hello.Random, clientInfo)
	if err != nil {
		if engine != nil {
			engine.Close()
		}
		m.Stop()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateSoftEtherHandshaking {
		if engine != nil {
			engine.Close()
		}
		return fmt.Errorf("%w: stopped while handshaking", ErrBadState)
	}

	m.params = params
	m.logger.Infof("session: established %q (connection %q)", params.SessionName, params.ConnectionName)

	if params.UDPAccel != nil && engine != nil {
		if err := engine.Configure(params.UDPAccel); err != nil {
			m.logger.Warnf("session: disabling UDP acceleration: %s", err.Error())
			engine.Close()
			engine = nil
		}
	} else if engine != nil {
		m.logger.Info("session: server did not grant UDP acceleration")
		engine.Close()
		engine = nil
	}
	m.engine = engine

	// From here on the TCP byte stream carries SoftEther framing.
	m.framedConn = networkio.NewFramedConn(conn)
	m.sessionToNetwork = make(chan []byte, channelDepth)
	m.networkToSession = make(chan []byte, channelDepth)
	m.udpFrames = make(chan []byte, channelDepth)

	m.netSvc = &networkio.Service{
		SessionToNetwork: m.sessionToNetwork,
		NetworkToSession: &m.networkToSession,
	}
	m.netSvc.StartWorkers(m.config, m.workersManager, m.framedConn)

	if m.engine != nil {
		m.engine.StartWorkers(m.workersManager, m.udpFrames)
	}

	m.workersManager.StartWorker(m.dispatchWorker)

	m.setState(model.StateEstablished)
	return nil
}

// ObtainIPViaDHCP runs the embedded DHCP exchange over the TCP
// channel and returns the bound network parameters.
func (m *Manager) ObtainIPViaDHCP() (*model.NetworkParameters, error) {
	m.mu.Lock()
	if err := m.requireState(model.StateEstablished); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !m.dhcpStarted {
		m.dhcpSvc = &dhcp.Service{
			Start:         make(chan any, 1),
			IncomingFrame: make(chan []byte, channelDepth),
			FrameDown:     &m.sessionToNetwork,
			Bound:         make(chan *model.NetworkParameters, 1),
			Renewed:       make(chan *model.NetworkParameters, 1),
			Failed:        make(chan error, 1),
		}
		m.dhcpSvc.StartWorkers(m.config, m.workersManager, m.clientMAC)
		m.workersManager.StartWorker(m.renewWorker)
		m.dhcpStarted = true
	}
	svc := m.dhcpSvc
	m.mu.Unlock()

	svc.Start <- true

	select {
	case params := <-svc.Bound:
		m.mu.Lock()
		m.netParams = params
		m.mu.Unlock()
		return params, nil

	case err := <-svc.Failed:
		m.Stop()
		return nil, err

	case <-m.workersManager.ShouldShutdown():
		m.Stop()
		return nil, ErrTransportClosed
	}
}

// StartTunneling applies the network settings to the host, starts
// ARP, and begins pumping packets between the host flow and the
// server.
func (m *Manager) StartTunneling(flow model.HostFlow) error {
	m.mu.Lock()
	if err := m.requireState(model.StateEstablished); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.netParams == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no DHCP lease", ErrBadState)
	}
	params := m.netParams
	m.mu.Unlock()

	if m.applier != nil {
		if err := m.applier.Apply(newNetworkSettings(m.options, params)); err != nil {
			m.Stop()
			return fmt.Errorf("%w: %s", ErrSettingsApply, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateEstablished {
		return fmt.Errorf("%w: stopped while starting the tunnel", ErrBadState)
	}

	m.flow = flow
	m.resolver = arp.NewResolver(m.logger, params.ClientIPv4, m.clientMAC, m.emitFrameTCP)
	m.resolver.Start(time.Now())
	if params.GatewayIPv4 != nil {
		m.resolver.Request(params.GatewayIPv4, time.Now())
	}

	m.workersManager.StartWorker(m.outboundWorker)
	m.workersManager.StartWorker(m.tcpKeepAliveWorker)

	m.setState(model.StateTunneling)
	return nil
}

// Stop cancels all timers, closes both transports, and clears the
// session state. Idempotent; the session is unusable afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == model.StateStopped {
		m.mu.Unlock()
		return
	}
	m.setState(model.StateStopped)
	if m.resolver != nil {
		m.resolver.Stop()
	}
	rawConn := m.rawConn
	engine := m.engine
	m.mu.Unlock()

	m.workersManager.StartShutdown()
	if rawConn != nil {
		rawConn.Close()
	}
	if engine != nil {
		engine.Close()
	}
	m.workersManager.WaitWorkersDone()
}

// NetworkParameters returns a copy of the current DHCP result, nil
// when no lease is bound.
func (m *Manager) NetworkParameters() *model.NetworkParameters {
	defer m.mu.Unlock()
	m.mu.Lock()
	if m.netParams == nil {
		return nil
	}
	out := *m.netParams
	return &out
}

// newNetworkSettings converts the DHCP result into the host settings.
func newNetworkSettings(options *config.SessionOptions, params *model.NetworkParameters) *model.NetworkSettings {
	settings := &model.NetworkSettings{
		RemoteAddress: options.Host,
		Addresses:     []string{params.ClientIPv4.String()},
		SubnetMasks:   []string{net.IP(params.SubnetMask).String()},
		MTU:           params.MTU,
	}
	if params.GatewayIPv4 != nil {
		settings.Router = params.GatewayIPv4.String()
	}
	for _, dns := range params.DNSServers {
		settings.DNSServers = append(settings.DNSServers, dns.String())
	}
	return settings
}
