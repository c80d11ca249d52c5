// Package dhcp implements the embedded DHCP client that runs over
// the tunnel's TCP channel to obtain the Layer-3 configuration.
package dhcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/raa-org/sevpn/internal/ethframe"
)

// BOOTP/DHCP constants.
const (
	portServer = 67
	portClient = 68

	msgDiscover = 1
	msgOffer    = 2
	msgRequest  = 3
	msgAck      = 5
	msgNak      = 6
)

// magicCookie is the BOOTP vendor-extension magic.
var magicCookie = []byte{0x63, 0x82, 0x53, 0x63}

// paramRequestList is the option-55 payload we advertise:
// mask, router, dns, domain, broadcast, lease, T1, T2.
var paramRequestList = []byte{1, 3, 6, 15, 28, 51, 58, 59}

// ErrInvalidMessage means an incoming DHCP message cannot be parsed.
var ErrInvalidMessage = errors.New("dhcp: invalid message")

// buildPayload builds a BOOTP header plus options. ciaddr is zero
// except while renewing.
func buildPayload(xid uint32, mac net.HardwareAddr, ciaddr net.IP, options []layers.DHCPOption) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(1) // op: BOOTREQUEST
	buf.WriteByte(1) // htype: Ethernet
	buf.WriteByte(6) // hlen
	buf.WriteByte(0) // hops
	_ = binary.Write(buf, binary.BigEndian, xid)
	_ = binary.Write(buf, binary.BigEndian, uint16(0)) // secs
	_ = binary.Write(buf, binary.BigEndian, uint16(0)) // flags
	writeIPv4(buf, ciaddr)                             // ciaddr
	writeIPv4(buf, nil)                                // yiaddr
	writeIPv4(buf, nil)                                // siaddr
	writeIPv4(buf, nil)                                // giaddr
	var chaddr [16]byte
	copy(chaddr[:], mac)
	buf.Write(chaddr[:])
	buf.Write(make([]byte, 192)) // sname + file
	buf.Write(magicCookie)
	for _, opt := range options {
		buf.WriteByte(byte(opt.Type))
		buf.WriteByte(byte(len(opt.Data)))
		buf.Write(opt.Data)
	}
	buf.WriteByte(255) // end
	return buf.Bytes()
}

func writeIPv4(buf *bytes.Buffer, ip net.IP) {
	var b [4]byte
	if ip4 := ip.To4(); ip4 != nil {
		copy(b[:], ip4)
	}
	buf.Write(b[:])
}

// newDiscover builds the Ethernet frame carrying a DISCOVER.
func newDiscover(xid uint32, mac net.HardwareAddr) []byte {
	payload := buildPayload(xid, mac, nil, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{msgDiscover}),
		layers.NewDHCPOption(layers.DHCPOptParamsRequest, paramRequestList),
	})
	return wrapBroadcast(mac, payload)
}

// newRequest builds the Ethernet frame carrying a selecting REQUEST.
func newRequest(xid uint32, mac net.HardwareAddr, requested, serverID net.IP) []byte {
	payload := buildPayload(xid, mac, nil, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{msgRequest}),
		layers.NewDHCPOption(layers.DHCPOptRequestIP, requested.To4()),
		layers.NewDHCPOption(layers.DHCPOptServerID, serverID.To4()),
		layers.NewDHCPOption(layers.DHCPOptParamsRequest, paramRequestList),
	})
	return wrapBroadcast(mac, payload)
}

// newRenewRequest builds the Ethernet frame carrying a renewing
// REQUEST unicast to the lease's server.
func newRenewRequest(xid uint32, mac net.HardwareAddr, myIP, serverID net.IP) []byte {
	payload := buildPayload(xid, mac, myIP, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{msgRequest}),
		layers.NewDHCPOption(layers.DHCPOptParamsRequest, paramRequestList),
	})
	packet := ethframe.BuildIPv4UDP(myIP, serverID, portClient, portServer, payload)
	return ethframe.BuildFrame(ethframe.BroadcastMAC, mac, ethframe.EtherTypeIPv4, packet)
}

// wrapBroadcast wraps a DHCP payload into UDP 68→67 from 0.0.0.0 to
// the broadcast address and frames it to FF:FF:FF:FF:FF:FF.
func wrapBroadcast(mac net.HardwareAddr, payload []byte) []byte {
	packet := ethframe.BuildIPv4UDP(
		net.IPv4zero, net.IPv4bcast, portClient, portServer, payload)
	return ethframe.BuildFrame(ethframe.BroadcastMAC, mac, ethframe.EtherTypeIPv4, packet)
}

// reply is a decoded server message relevant to the client.
type reply struct {
	msgType    byte
	xid        uint32
	yiaddr     net.IP
	serverID   net.IP
	subnetMask net.IPMask
	router     net.IP
	dns        []net.IP
	lease      uint32
}

// parseReply inspects a decoded Ethernet frame and returns the DHCP
// reply when the frame is a server→client DHCP datagram, nil when the
// frame is something else, and an error when the datagram claims to
// be DHCP but cannot be parsed.
func parseReply(frame *ethframe.Frame) (*reply, error) {
	if frame.Type != ethframe.EtherTypeIPv4 {
		return nil, nil
	}
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		return nil, nil // not UDP, not for us
	}
	if dgram.SrcPort != portServer || dgram.DstPort != portClient {
		return nil, nil
	}
	if len(dgram.Payload) < 240 || !bytes.Equal(dgram.Payload[236:240], magicCookie) {
		return nil, fmt.Errorf("%w: missing magic cookie", ErrInvalidMessage)
	}

	var msg layers.DHCPv4
	if err := msg.DecodeFromBytes(dgram.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if msg.Operation != layers.DHCPOpReply {
		return nil, nil
	}

	r := &reply{
		xid:    msg.Xid,
		yiaddr: msg.YourClientIP,
	}
	for _, opt := range msg.Options {
		switch opt.Type {
		case layers.DHCPOptMessageType:
			if len(opt.Data) >= 1 {
				r.msgType = opt.Data[0]
			}
		case layers.DHCPOptServerID:
			if len(opt.Data) == 4 {
				r.serverID = net.IP(append([]byte(nil), opt.Data...))
			}
		case layers.DHCPOptSubnetMask:
			if len(opt.Data) == 4 {
				r.subnetMask = net.IPMask(append([]byte(nil), opt.Data...))
			}
		case layers.DHCPOptRouter:
			if len(opt.Data) >= 4 {
				r.router = net.IP(append([]byte(nil), opt.Data[:4]...))
			}
		case layers.DHCPOptDNS:
			for off := 0; off+4 <= len(opt.Data); off += 4 {
				r.dns = append(r.dns, net.IP(append([]byte(nil), opt.Data[off:off+4]...)))
			}
		case layers.DHCPOptLeaseTime:
			if len(opt.Data) == 4 {
				r.lease = binary.BigEndian.Uint32(opt.Data)
			}
		}
	}
	if r.msgType == 0 {
		return nil, fmt.Errorf("%w: missing message type", ErrInvalidMessage)
	}
	return r, nil
}
