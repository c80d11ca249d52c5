package ethframe

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

var (
	macA = net.HardwareAddr{0x02, 0x00, 0x5E, 0x10, 0x20, 0x30}
	macB = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x06}
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x01},
		bytes.Repeat([]byte{0x7F}, 1400),
	}
	for _, payload := range payloads {
		raw := BuildFrame(macA, macB, EtherTypeIPv4, payload)
		if len(raw) != 14+len(payload) {
			t.Fatalf("frame length = %d, want %d", len(raw), 14+len(payload))
		}
		frame, err := ParseFrame(raw)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(frame.Dst, macA) || !bytes.Equal(frame.Src, macB) {
			t.Fatalf("addresses mismatch: %v %v", frame.Dst, frame.Src)
		}
		if frame.Type != EtherTypeIPv4 {
			t.Fatalf("type = %04x", frame.Type)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("payload mismatch")
		}
	}
}

func TestParseFrameTooShort(t *testing.T) {
	if _, err := ParseFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildIPv4UDP(t *testing.T) {
	src := net.IPv4(0, 0, 0, 0)
	dst := net.IPv4(255, 255, 255, 255)
	payload := bytes.Repeat([]byte{0xD0}, 300)
	packet := BuildIPv4UDP(src, dst, 68, 67, payload)

	if packet[0] != 0x45 {
		t.Fatalf("version/ihl = %02x", packet[0])
	}
	if got := binary.BigEndian.Uint16(packet[2:4]); got != uint16(28+len(payload)) {
		t.Fatalf("total length = %d", got)
	}
	if packet[8] != 64 {
		t.Fatalf("ttl = %d", packet[8])
	}
	if packet[9] != 17 {
		t.Fatalf("protocol = %d", packet[9])
	}
	if packet[6]&0x40 == 0 {
		t.Fatal("DF flag not set")
	}
	// The header checksum must verify: summing the header including
	// the checksum field yields 0xFFFF.
	var sum uint32
	for i := 0; i < 20; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(packet[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	if sum != 0xFFFF {
		t.Fatalf("header checksum does not verify: %04x", sum)
	}
	// UDP checksum stays zero.
	if got := binary.BigEndian.Uint16(packet[26:28]); got != 0 {
		t.Fatalf("udp checksum = %04x, want 0", got)
	}

	dgram, err := ParseIPv4UDP(packet)
	if err != nil {
		t.Fatal(err)
	}
	if dgram.SrcPort != 68 || dgram.DstPort != 67 {
		t.Fatalf("ports = %d %d", dgram.SrcPort, dgram.DstPort)
	}
	if !bytes.Equal(dgram.Payload, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestParseIPv4UDPRejectsTCP(t *testing.T) {
	packet := BuildIPv4UDP(net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), 1, 2, nil)
	packet[9] = 6 // claim TCP
	// zero the checksum field; the parser does not verify it, so only
	// the protocol check can reject
	binary.BigEndian.PutUint16(packet[10:12], 0)
	if _, err := ParseIPv4UDP(packet); err == nil {
		t.Fatal("expected error for non-UDP packet")
	}
}

func TestBuildARPShape(t *testing.T) {
	senderIP := net.IPv4(10, 0, 0, 5)
	targetIP := net.IPv4(10, 0, 0, 9)
	payload := BuildARP(ARPOpReply, macA, senderIP, macB, targetIP)
	if len(payload) != 28 {
		t.Fatalf("ARP payload length = %d, want 28", len(payload))
	}
	if got := binary.BigEndian.Uint16(payload[0:2]); got != 1 {
		t.Fatalf("hardware type = %d", got)
	}
	if got := binary.BigEndian.Uint16(payload[2:4]); got != 0x0800 {
		t.Fatalf("protocol type = %04x", got)
	}
	if payload[4] != 6 || payload[5] != 4 {
		t.Fatalf("hlen/plen = %d/%d", payload[4], payload[5])
	}
	arp, err := ParseARP(payload)
	if err != nil {
		t.Fatal(err)
	}
	if arp.Op != ARPOpReply {
		t.Fatalf("op = %d", arp.Op)
	}
	if !bytes.Equal(arp.SenderMAC, macA) || !arp.SenderIP.Equal(senderIP) {
		t.Fatal("sender mismatch")
	}
	if !bytes.Equal(arp.TargetMAC, macB) || !arp.TargetIP.Equal(targetIP) {
		t.Fatal("target mismatch")
	}
}

func TestIsOnLink(t *testing.T) {
	myIP := net.IPv4(10, 0, 0, 5)
	mask := net.IPv4Mask(255, 255, 255, 0)
	tests := []struct {
		dst  string
		want bool
	}{
		{"10.0.0.9", true},
		{"10.0.0.1", true},
		{"8.8.8.8", false},
		{"10.0.1.9", false},
	}
	for _, tt := range tests {
		if got := IsOnLink(net.ParseIP(tt.dst), myIP, mask); got != tt.want {
			t.Errorf("IsOnLink(%s) = %v, want %v", tt.dst, got, tt.want)
		}
	}
}

func TestIPv4Destination(t *testing.T) {
	packet := BuildIPv4UDP(net.IPv4(10, 0, 0, 5), net.IPv4(8, 8, 8, 8), 1000, 53, nil)
	dst, err := IPv4Destination(packet)
	if err != nil {
		t.Fatal(err)
	}
	if !dst.Equal(net.IPv4(8, 8, 8, 8)) {
		t.Fatalf("dst = %s", dst)
	}
}
