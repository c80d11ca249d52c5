package handshake

import (
	"errors"
	"fmt"
	"net"

	"github.com/raa-org/sevpn/internal/bytesx"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/pack"
	"github.com/raa-org/sevpn/internal/udpsession"
	"github.com/raa-org/sevpn/pkg/config"
)

const (
	// helloPath is the endpoint receiving the watermark post.
	helloPath = "/vpnsvc/connect.cgi"

	// vpnPath is the endpoint receiving the pack exchanges.
	vpnPath = "/vpnsvc/vpn.cgi"

	// randomSize is the size of the server challenge.
	randomSize = 20

	// sessionKeySize is the size of the session key in the Welcome.
	sessionKeySize = 20

	// helloPaddingMax bounds the random bytes after the watermark.
	helloPaddingMax = 2000

	// pencoreMax bounds the random pencore blob in the auth pack.
	pencoreMax = 1000
)

var (
	// ErrHandshake is the generic Hello/Auth/Welcome failure.
	ErrHandshake = errors.New("handshake: failed")

	// ErrServerError wraps a nonzero `error` field in a server pack.
	ErrServerError = errors.New("handshake: server reported error")

	// ErrRedirectUnsupported is returned when the server asks us to
	// reconnect elsewhere; following redirects is not implemented.
	ErrRedirectUnsupported = errors.New("handshake: redirect unimplemented")

	// ErrUDPAccelVersion is returned when the server insists on UDP
	// acceleration version 1.
	ErrUDPAccelVersion = errors.New("handshake: UDP acceleration v1 not supported")
)

// HelloResult is the parsed server Hello.
type HelloResult struct {
	// Random is the 20-byte challenge for the password derivation.
	Random []byte

	// Version and Build identify the server software.
	Version uint32
	Build   uint32

	// Banner is the hello string.
	Banner string
}

// SessionParameters is the session descriptor from the Welcome pack.
type SessionParameters struct {
	SessionName    string
	ConnectionName string
	SessionKey     []byte
	SessionKey32   uint32

	MaxConnection     uint32
	UseCompress       bool
	UseEncrypt        bool
	HalfConnection    bool
	Timeout           uint32
	EnableUDPRecovery bool

	Policy *Policy

	// UDPAccel is non-nil when the server granted acceleration.
	UDPAccel *udpsession.ServerParams
}

// Hello posts the watermark and parses the server challenge.
func Hello(conn net.Conn, logger model.Logger, options *config.SessionOptions) (*HelloResult, error) {
	body := append(append([]byte(nil), watermark...), bytesx.RandomPadding(helloPaddingMax)...)
	respBody, err := httpPost(conn, options.ServerEndpoint(), helloPath, "image/jpeg", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err)
	}

	p, err := pack.Unmarshal(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err)
	}
	if code := p.GetInt("error"); code != 0 {
		return nil, fmt.Errorf("%w: code %d", ErrServerError, code)
	}
	random := p.GetData("random")
	if len(random) < randomSize {
		return nil, fmt.Errorf("%w: short random (%d bytes)", ErrHandshake, len(random))
	}

	result := &HelloResult{
		Random:  random[:randomSize],
		Version: p.GetInt("version"),
		Build:   p.GetInt("build"),
		Banner:  p.GetStr("hello"),
	}
	logger.Infof("handshake: hello %q version=%d build=%d", result.Banner, result.Version, result.Build)
	return result, nil
}

// Authenticate posts the login pack and parses the Welcome.
// udpInfo is nil when UDP acceleration is not advertised.
func Authenticate(
	conn net.Conn,
	logger model.Logger,
	options *config.SessionOptions,
	auth *Auth,
	random []byte,
	udpInfo *udpsession.ClientInfo,
) (*SessionParameters, error) {
	p := newLoginPack(options, auth, random, udpInfo)
	logger.Debugf("handshake: auth %s", p.DebugString())

	body, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err)
	}
	respBody, err := httpPost(conn, options.ServerEndpoint(), vpnPath, "application/octet-stream", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err)
	}
	welcome, err := pack.Unmarshal(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err)
	}
	logger.Debugf("handshake: welcome %s", welcome.DebugString())
	return parseWelcome(welcome)
}

// newLoginPack builds the auth pack.
func newLoginPack(
	options *config.SessionOptions,
	auth *Auth,
	random []byte,
	udpInfo *udpsession.ClientInfo,
) *pack.Pack {
	clientStr, clientVer, clientBuild := options.Banner()

	p := pack.New()
	p.AddStr("method", "login")
	p.AddStr("hubname", options.Hub)
	p.AddStr("username", auth.Username)

	if auth.Token != "" {
		p.AddInt("authtype", authTypeTicket)
		p.AddStr("jwt", auth.Token)
	} else {
		proof := securePassword(auth.Password, auth.Username, random)
		p.AddInt("authtype", authTypePassword)
		p.AddData("secure_password", proof[:])
	}

	p.AddInt("protocol", 0)
	p.AddBool("use_encrypt", true)
	p.AddBool("use_compress", false)
	p.AddInt("max_connection", 1)
	p.AddBool("half_connection", false)
	p.AddBool("qos", false)

	p.AddStr("client_str", clientStr)
	p.AddInt("client_ver", clientVer)
	p.AddInt("client_build", clientBuild)

	p.AddData("pencore", bytesx.RandomPadding(pencoreMax))

	if udpInfo != nil {
		p.AddBool("use_udp_acceleration", true)
		p.AddInt("udp_acceleration_max_version", udpInfo.MaxVersion)
		p.AddIPv4("udp_acceleration_client_ip", udpInfo.LocalIP)
		p.AddInt("udp_acceleration_client_port", uint32(udpInfo.LocalPort))
		p.AddData("udp_acceleration_client_key", udpInfo.KeyV1)
		p.AddData("udp_acceleration_client_key_v2", udpInfo.KeyV2)
		p.AddBool("support_hmac_on_udp_acceleration", true)
		p.AddBool("support_udp_accel_fast_disconnect_detect", true)
	}
	return p
}

// parseWelcome validates the Welcome pack and extracts the session
// parameters.
func parseWelcome(p *pack.Pack) (*SessionParameters, error) {
	if code := p.GetInt("error"); code != 0 {
		return nil, fmt.Errorf("%w: code %d", ErrServerError, code)
	}
	if p.GetBool("Redirect") {
		return nil, ErrRedirectUnsupported
	}

	sessionName := p.GetStr("session_name")
	connectionName := p.GetStr("connection_name")
	sessionKey := p.GetData("session_key")
	if sessionName == "" || connectionName == "" {
		return nil, fmt.Errorf("%w: missing session identifiers", ErrHandshake)
	}
	if len(sessionKey) != sessionKeySize {
		return nil, fmt.Errorf("%w: bad session key length %d", ErrHandshake, len(sessionKey))
	}

	params := &SessionParameters{
		SessionName:       sessionName,
		ConnectionName:    connectionName,
		SessionKey:        sessionKey,
		SessionKey32:      p.GetInt("session_key_32"),
		MaxConnection:     1,
		UseEncrypt:        true,
		Timeout:           p.GetInt("timeout"),
		EnableUDPRecovery: p.GetBool("enable_udp_recovery"),
		Policy:            parsePolicy(p),
	}
	if p.Has("max_connection") {
		params.MaxConnection = p.GetInt("max_connection")
	}
	if p.Has("use_compress") {
		params.UseCompress = p.GetBool("use_compress")
	}
	if p.Has("use_encrypt") {
		params.UseEncrypt = p.GetBool("use_encrypt")
	}
	if p.Has("half_connection") {
		params.HalfConnection = p.GetBool("half_connection")
	}

	if p.GetBool("use_udp_acceleration") {
		version := p.GetInt("udp_acceleration_version")
		if version < 2 {
			return nil, ErrUDPAccelVersion
		}
		serverKey := p.GetData("udp_acceleration_server_key_v2")
		if len(serverKey) < 32 {
			return nil, fmt.Errorf("%w: short server key (%d bytes)", ErrHandshake, len(serverKey))
		}
		accel := &udpsession.ServerParams{
			Version:              version,
			UseEncryption:        p.GetBool("use_encryption_on_udp_acceleration"),
			UseHmac:              p.GetBool("use_hmac_on_udp_acceleration"),
			FastDisconnectDetect: p.GetBool("udp_accel_fast_disconnect_detect"),
			ServerIP:             p.GetIPv4("udp_acceleration_server_ip"),
			ServerPort:           uint16(p.GetInt("udp_acceleration_server_port")),
			ServerCookie:         p.GetInt("udp_acceleration_server_cookie"),
			ClientCookie:         p.GetInt("udp_acceleration_client_cookie"),
			ServerKeyV2:          serverKey,
		}
		if accel.ServerCookie == 0 || accel.ClientCookie == 0 || accel.ServerPort == 0 {
			return nil, fmt.Errorf("%w: incomplete acceleration parameters", ErrHandshake)
		}
		params.UDPAccel = accel
	}
	return params, nil
}
