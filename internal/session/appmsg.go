package session

import (
	"encoding/json"
	"net"
)

// maskString renders a subnet mask in dotted-quad form.
func maskString(mask net.IPMask) string {
	return net.IP(mask).String()
}

// dhcpInfoReply is the JSON answer to the dhcp_status app message.
type dhcpInfoReply struct {
	Type    string          `json:"type"`
	Payload dhcpInfoPayload `json:"payload"`
}

type dhcpInfoPayload struct {
	AssignedIP string   `json:"assigned_ip"`
	SubnetMask string   `json:"subnet_mask"`
	Gateway    string   `json:"gateway"`
	DNS        []string `json:"dns"`
	MTU        int      `json:"mtu"`
}

// HandleAppMessage answers a UTF-8 command from the host app. Unknown
// commands yield an empty reply.
func (m *Manager) HandleAppMessage(message []byte) []byte {
	switch string(message) {
	case "dhcp_status":
		return m.dhcpStatusReply()
	default:
		return []byte{}
	}
}

// dhcpStatusReply serializes the current lease.
func (m *Manager) dhcpStatusReply() []byte {
	reply := dhcpInfoReply{
		Type: "dhcp_info",
		Payload: dhcpInfoPayload{
			DNS: []string{},
		},
	}
	if params := m.NetworkParameters(); params != nil {
		reply.Payload.AssignedIP = params.ClientIPv4.String()
		reply.Payload.SubnetMask = maskString(params.SubnetMask)
		if params.GatewayIPv4 != nil {
			reply.Payload.Gateway = params.GatewayIPv4.String()
		}
		for _, dns := range params.DNSServers {
			reply.Payload.DNS = append(reply.Payload.DNS, dns.String())
		}
		reply.Payload.MTU = params.MTU
	}
	out, err := json.Marshal(reply)
	if err != nil {
		m.logger.Warnf("session: cannot marshal dhcp_info: %s", err.Error())
		return []byte{}
	}
	return out
}
