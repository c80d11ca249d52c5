package handshake

import (
	"github.com/raa-org/sevpn/internal/pack"
)

// Policy is the per-session policy block of the Welcome pack,
// covering both the Ver2 and Ver3 generations of flags and caps.
type Policy struct {
	// Ver 2
	Access             bool
	DHCPFilter         bool
	DHCPNoServer       bool
	DHCPForce          bool
	NoBridge           bool
	NoRouting          bool
	CheckMac           bool
	CheckIP            bool
	ArpDhcpOnly        bool
	PrivacyFilter      bool
	NoServer           bool
	NoBroadcastLimiter bool
	MonitorPort        bool
	MaxConnection      uint32
	TimeOut            uint32
	MaxMac             uint32
	MaxIP              uint32
	MaxUpload          uint32
	MaxDownload        uint32
	FixPassword        bool
	MultiLogins        uint32
	NoQoS              bool

	// Ver 3
	RSandRAFilter                   bool
	RAFilter                        bool
	DHCPv6Filter                    bool
	DHCPv6NoServer                  bool
	NoRoutingV6                     bool
	CheckIPv6                       bool
	NoServerV6                      bool
	MaxIPv6                         uint32
	NoSavePassword                  bool
	AutoDisconnect                  uint32
	FilterIPv4                      bool
	FilterIPv6                      bool
	FilterNonIP                     bool
	NoIPv6DefaultRouterInRA         bool
	NoIPv6DefaultRouterInRAWhenIPv6 bool
	VLanId                          uint32
}

// parsePolicy extracts the policy:* keys from a Welcome pack.
func parsePolicy(p *pack.Pack) *Policy {
	return &Policy{
		Access:             p.GetBool("policy:Access"),
		DHCPFilter:         p.GetBool("policy:DHCPFilter"),
		DHCPNoServer:       p.GetBool("policy:DHCPNoServer"),
		DHCPForce:          p.GetBool("policy:DHCPForce"),
		NoBridge:           p.GetBool("policy:NoBridge"),
		NoRouting:          p.GetBool("policy:NoRouting"),
		CheckMac:           p.GetBool("policy:CheckMac"),
		CheckIP:            p.GetBool("policy:CheckIP"),
		ArpDhcpOnly:        p.GetBool("policy:ArpDhcpOnly"),
		PrivacyFilter:      p.GetBool("policy:PrivacyFilter"),
		NoServer:           p.GetBool("policy:NoServer"),
		NoBroadcastLimiter: p.GetBool("policy:NoBroadcastLimiter"),
		MonitorPort:        p.GetBool("policy:MonitorPort"),
		MaxConnection:      p.GetInt("policy:MaxConnection"),
		TimeOut:            p.GetInt("policy:TimeOut"),
		MaxMac:             p.GetInt("policy:MaxMac"),
		MaxIP:              p.GetInt("policy:MaxIP"),
		MaxUpload:          p.GetInt("policy:MaxUpload"),
		MaxDownload:        p.GetInt("policy:MaxDownload"),
		FixPassword:        p.GetBool("policy:FixPassword"),
		MultiLogins:        p.GetInt("policy:MultiLogins"),
		NoQoS:              p.GetBool("policy:NoQoS"),

		RSandRAFilter:                   p.GetBool("policy:RSandRAFilter"),
		RAFilter:                        p.GetBool("policy:RAFilter"),
		DHCPv6Filter:                    p.GetBool("policy:DHCPv6Filter"),
		DHCPv6NoServer:                  p.GetBool("policy:DHCPv6NoServer"),
		NoRoutingV6:                     p.GetBool("policy:NoRoutingV6"),
		CheckIPv6:                       p.GetBool("policy:CheckIPv6"),
		NoServerV6:                      p.GetBool("policy:NoServerV6"),
		MaxIPv6:                         p.GetInt("policy:MaxIPv6"),
		NoSavePassword:                  p.GetBool("policy:NoSavePassword"),
		AutoDisconnect:                  p.GetInt("policy:AutoDisconnect"),
		FilterIPv4:                      p.GetBool("policy:FilterIPv4"),
		FilterIPv6:                      p.GetBool("policy:FilterIPv6"),
		FilterNonIP:                     p.GetBool("policy:FilterNonIP"),
		NoIPv6DefaultRouterInRA:         p.GetBool("policy:NoIPv6DefaultRouterInRA"),
		NoIPv6DefaultRouterInRAWhenIPv6: p.GetBool("policy:NoIPv6DefaultRouterInRAWhenIPv6"),
		VLanId:                          p.GetInt("policy:VLanId"),
	}
}
