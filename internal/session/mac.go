package session

import (
	"net"

	"github.com/raa-org/sevpn/internal/bytesx"
)

// newClientMAC generates the session's locally-administered unicast
// MAC: bit 0 of the first octet cleared (unicast), bit 1 set
// (locally administered), everything else random.
func newClientMAC() (net.HardwareAddr, error) {
	b, err := bytesx.GenRandomBytes(6)
	if err != nil {
		return nil, err
	}
	b[0] = (b[0] &^ 0x01) | 0x02
	return net.HardwareAddr(b), nil
}
