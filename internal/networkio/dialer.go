// Package networkio implements the TLS control channel: dialing the
// server, the SoftEther stream framing on top of the TLS byte stream,
// and the workers moving Ethernet payloads between the session and
// the network.
package networkio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/pkg/config"
)

var (
	// ErrDialError is a generic error emitted when we fail to dial.
	ErrDialError = errors.New("networkio: dial error")

	// ErrPinMismatch is returned when the server leaf certificate does
	// not match the configured pin.
	ErrPinMismatch = errors.New("networkio: pinned certificate mismatch")
)

// dialTimeout bounds the TCP connect plus TLS handshake.
const dialTimeout = 20 * time.Second

// Dialer dials connections and performs the TLS handshake. The
// TLS layer is used for path crossing, not trust: the session's
// confidentiality is bootstrapped by the SoftEther handshake, so by
// default we accept any certificate. A leaf pin can be configured.
type Dialer struct {
	logger model.Logger

	options *config.SessionOptions

	// dialContextFn allows tests to replace the underlying dialer.
	dialContextFn func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer creates a [Dialer] with the given configuration.
func NewDialer(cfg *config.Config) *Dialer {
	nd := &net.Dialer{Timeout: dialTimeout}
	return &Dialer{
		logger:        cfg.Logger(),
		options:       cfg.SessionOptions(),
		dialContextFn: nd.DialContext,
	}
}

// DialContext establishes the TCP connection and runs the TLS
// handshake, returning the secured connection.
func (d *Dialer) DialContext(ctx context.Context) (net.Conn, error) {
	endpoint := d.options.ServerEndpoint()
	d.logger.Debugf("networkio: dialing %s", endpoint)

	tcpConn, err := d.dialContextFn(ctx, "tcp4", endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDialError, err)
	}

	tlsConf := newTLSConfig(d.options)
	tlsConn, err := tlsHandshakeFn(tcpConn, tlsConf)
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("%w: %s", ErrDialError, err)
	}
	d.logger.Infof("networkio: secure transport ready (%s)", endpoint)
	return tlsConn, nil
}

// newTLSConfig builds the client TLS configuration. Verification is
// permissive unless a leaf pin is set.
func newTLSConfig(options *config.SessionOptions) *tls.Config {
	conf := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	} //#nosec G402 -- trust comes from the in-band handshake
	if pin := options.PinnedLeafSHA256; len(pin) > 0 {
		conf.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrPinMismatch
			}
			sum := sha256.Sum256(rawCerts[0])
			if !bytes.Equal(sum[:], pin) {
				return ErrPinMismatch
			}
			return nil
		}
	}
	return conf
}

// tlsHandshake performs the TLS handshake and returns the TLS client
// as a net.Conn.
func tlsHandshake(conn net.Conn, conf *tls.Config) (net.Conn, error) {
	client := tls.UClient(conn, conf, tls.HelloGolang)
	if err := client.Handshake(); err != nil {
		return nil, err
	}
	return client, nil
}

// tlsHandshakeFn allows monkeypatching in tests.
var tlsHandshakeFn = tlsHandshake
