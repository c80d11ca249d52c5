package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrBadProviderConfig is returned for missing or invalid provider
// configuration, before any I/O happens.
var ErrBadProviderConfig = errors.New("config: bad provider configuration")

// Client banner defaults advertised during the handshake.
const (
	DefaultClientString  = "sevpn"
	DefaultClientVersion = 444
	DefaultClientBuild   = 9807
)

// SessionOptions make the relevant session parameters accessible to
// the different modules that need them.
type SessionOptions struct {
	// Host is the server address. It MUST be a literal IPv4 address:
	// the engine never resolves names.
	Host string

	// Port is the server TCP port.
	Port uint16

	// Hub is the virtual hub to log into.
	Hub string

	// ProfileName names the profile this session was started from.
	ProfileName string

	// UDPAccelEnabled advertises UDP acceleration during the
	// handshake. The server decides whether to grant it.
	UDPAccelEnabled bool

	// PinnedLeafSHA256, when non-empty, is the SHA-256 digest of the
	// server's leaf certificate. The TLS layer accepts any certificate
	// when empty, matching the permissive verifier of the original
	// client.
	PinnedLeafSHA256 []byte

	// ClientString, ClientVersion and ClientBuild compose the client
	// banner sent in the auth pack. Zero values select the defaults.
	ClientString  string
	ClientVersion uint32
	ClientBuild   uint32
}

// Validate returns an error unless the options are complete enough to
// start a session.
func (o *SessionOptions) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: %s", ErrBadProviderConfig, "missing se_host")
	}
	ip := net.ParseIP(o.Host)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: se_host must be a literal IPv4 address", ErrBadProviderConfig)
	}
	if o.Port == 0 {
		return fmt.Errorf("%w: %s", ErrBadProviderConfig, "missing se_port")
	}
	if o.Hub == "" {
		return fmt.Errorf("%w: %s", ErrBadProviderConfig, "missing se_hub")
	}
	return nil
}

// Banner returns the client banner triple, applying defaults.
func (o *SessionOptions) Banner() (string, uint32, uint32) {
	str, ver, build := o.ClientString, o.ClientVersion, o.ClientBuild
	if str == "" {
		str = DefaultClientString
	}
	if ver == 0 {
		ver = DefaultClientVersion
	}
	if build == 0 {
		build = DefaultClientBuild
	}
	return str, ver, build
}

// ServerEndpoint returns the host:port string for dialing.
func (o *SessionOptions) ServerEndpoint() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(int(o.Port)))
}

// NewSessionOptionsFromProvider builds [SessionOptions] from the
// provider configuration keys (se_host, se_port, se_hub,
// profile_name). Unknown keys are ignored; the oidc group is consumed
// by the credential resolver, not here.
func NewSessionOptionsFromProvider(values map[string]string) (*SessionOptions, error) {
	opts := &SessionOptions{
		Host:        values["se_host"],
		Hub:         values["se_hub"],
		ProfileName: values["profile_name"],
	}
	if raw, ok := values["se_port"]; ok && raw != "" {
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: invalid se_port %q", ErrBadProviderConfig, raw)
		}
		opts.Port = uint16(port)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
