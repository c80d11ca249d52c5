// Package ethframe builds and parses the Layer-2 and Layer-3 units
// moved through the tunnel: Ethernet II frames, IPv4/UDP datagrams
// and ARP payloads. Serialization is backed by gopacket.
package ethframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Recognized Ethernet types.
const (
	EtherTypeIPv4 = uint16(0x0800)
	EtherTypeARP  = uint16(0x0806)
	EtherTypeIPv6 = uint16(0x86DD)
)

// BroadcastMAC is the all-ones Ethernet address.
var BroadcastMAC = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ZeroMAC is the all-zeros Ethernet address used for best-effort
// emission while ARP resolution is pending.
var ZeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// ErrParseFrame is returned when a frame or payload cannot be parsed.
var ErrParseFrame = errors.New("ethframe: parse error")

// Frame is a decoded Ethernet II frame (no VLAN, no trailer).
type Frame struct {
	Dst     net.HardwareAddr
	Src     net.HardwareAddr
	Type    uint16
	Payload []byte
}

// serializeOpts fixes lengths but leaves checksums alone.
var serializeOpts = gopacket.SerializeOptions{FixLengths: true}

// serializeOptsChecksum additionally computes header checksums.
var serializeOptsChecksum = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// BuildFrame serializes an Ethernet II frame. We do not pad to the
// 60-byte wire minimum: the tunnel carries frames verbatim and the
// server does not require physical-layer padding.
func BuildFrame(dst, src net.HardwareAddr, etherType uint16, payload []byte) []byte {
	out := make([]byte, 14+len(payload))
	copy(out[0:6], dst)
	copy(out[6:12], src)
	binary.BigEndian.PutUint16(out[12:14], etherType)
	copy(out[14:], payload)
	return out
}

// ParseFrame decodes an Ethernet II frame.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < 14 {
		return nil, fmt.Errorf("%w: frame too short (%d)", ErrParseFrame, len(raw))
	}
	return &Frame{
		Dst:     net.HardwareAddr(raw[0:6]),
		Src:     net.HardwareAddr(raw[6:12]),
		Type:    binary.BigEndian.Uint16(raw[12:14]),
		Payload: raw[14:],
	}, nil
}

// BuildIPv4UDP serializes an IPv4 packet carrying a UDP datagram.
// TTL is 64, DF is set, the IPv4 header checksum is computed, and the
// UDP checksum is left at zero as permitted for IPv4.
func BuildIPv4UDP(srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	buf := gopacket.NewSerializeBuffer()

	// Serialize bottom-up with per-layer options so that the UDP
	// checksum stays zero while the IPv4 header checksum is computed.
	_ = gopacket.Payload(payload).SerializeTo(buf, serializeOpts)

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	_ = udp.SerializeTo(buf, serializeOpts)

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	_ = ip.SerializeTo(buf, serializeOptsChecksum)

	return buf.Bytes()
}

// UDPDatagram is a decoded UDP-over-IPv4 datagram.
type UDPDatagram struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// ParseIPv4UDP decodes an IPv4 packet and, when it carries UDP,
// returns the datagram. Non-UDP packets yield an error.
func ParseIPv4UDP(packet []byte) (*UDPDatagram, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(packet, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFrame, err)
	}
	if ip.Protocol != layers.IPProtocolUDP {
		return nil, fmt.Errorf("%w: not UDP (protocol %d)", ErrParseFrame, ip.Protocol)
	}
	var udp layers.UDP
	if err := udp.DecodeFromBytes(ip.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFrame, err)
	}
	return &UDPDatagram{
		SrcIP:   ip.SrcIP,
		DstIP:   ip.DstIP,
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Payload: udp.Payload,
	}, nil
}

// IPv4Destination extracts the destination address of an IPv4 packet
// without a full decode.
func IPv4Destination(packet []byte) (net.IP, error) {
	if len(packet) < 20 || packet[0]>>4 != 4 {
		return nil, fmt.Errorf("%w: not an IPv4 header", ErrParseFrame)
	}
	dst := make(net.IP, 4)
	copy(dst, packet[16:20])
	return dst, nil
}

// ARP opcodes.
const (
	ARPOpRequest = uint16(1)
	ARPOpReply   = uint16(2)
)

// ARPPacket is a decoded Ethernet/IPv4 ARP payload.
type ARPPacket struct {
	Op        uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// BuildARP serializes a 28-byte Ethernet/IPv4 ARP payload.
func BuildARP(op uint16, senderMAC net.HardwareAddr, senderIP net.IP, targetMAC net.HardwareAddr, targetIP net.IP) []byte {
	buf := gopacket.NewSerializeBuffer()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: senderIP.To4(),
		DstHwAddress:      targetMAC,
		DstProtAddress:    targetIP.To4(),
	}
	_ = arp.SerializeTo(buf, serializeOpts)
	return buf.Bytes()
}

// ParseARP decodes an ARP payload.
func ParseARP(payload []byte) (*ARPPacket, error) {
	var arp layers.ARP
	if err := arp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFrame, err)
	}
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 {
		return nil, fmt.Errorf("%w: unsupported ARP address types", ErrParseFrame)
	}
	return &ARPPacket{
		Op:        arp.Operation,
		SenderMAC: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP:  net.IP(arp.SourceProtAddress),
		TargetMAC: net.HardwareAddr(arp.DstHwAddress),
		TargetIP:  net.IP(arp.DstProtAddress),
	}, nil
}

// IsOnLink reports whether dst shares the subnet of (myIP, mask).
func IsOnLink(dst, myIP net.IP, mask net.IPMask) bool {
	d4, m4 := dst.To4(), myIP.To4()
	if d4 == nil || m4 == nil || len(mask) != 4 {
		return false
	}
	return d4.Mask(mask).Equal(m4.Mask(mask))
}
