package dhcp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/raa-org/sevpn/internal/ethframe"
)

var testMAC = net.HardwareAddr{0x02, 0x00, 0x11, 0x22, 0x33, 0x44}

func TestDiscoverShape(t *testing.T) {
	raw := newDiscover(0xDEADBEEF, testMAC)
	frame, err := ethframe.ParseFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame.Dst, ethframe.BroadcastMAC) {
		t.Fatalf("dst = %s", frame.Dst)
	}
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if dgram.SrcPort != 68 || dgram.DstPort != 67 {
		t.Fatalf("ports = %d→%d", dgram.SrcPort, dgram.DstPort)
	}
	payload := dgram.Payload
	if payload[0] != 1 || payload[1] != 1 || payload[2] != 6 {
		t.Fatalf("bootp header = % x", payload[:4])
	}
	if got := binary.BigEndian.Uint32(payload[4:8]); got != 0xDEADBEEF {
		t.Fatalf("xid = %08x", got)
	}
	if !bytes.Equal(payload[28:34], testMAC) {
		t.Fatalf("chaddr = % x", payload[28:44])
	}
	if !bytes.Equal(payload[236:240], magicCookie) {
		t.Fatalf("magic cookie = % x", payload[236:240])
	}
	// options: 53=discover then 55 then end
	opts := payload[240:]
	if opts[0] != 53 || opts[1] != 1 || opts[2] != msgDiscover {
		t.Fatalf("first option = % x", opts[:3])
	}
	if opts[len(opts)-1] != 255 {
		t.Fatalf("missing end option")
	}
	if !bytes.Contains(opts, append([]byte{55, byte(len(paramRequestList))}, paramRequestList...)) {
		t.Fatalf("missing parameter request list")
	}
}

func TestRequestCarriesSelection(t *testing.T) {
	raw := newRequest(0x01020304, testMAC, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1))
	frame, _ := ethframe.ParseFrame(raw)
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	opts := dgram.Payload[240:]
	if !bytes.Contains(opts, []byte{50, 4, 10, 0, 0, 5}) {
		t.Fatal("missing requested IP option")
	}
	if !bytes.Contains(opts, []byte{54, 4, 10, 0, 0, 1}) {
		t.Fatal("missing server ID option")
	}
}

func TestRenewRequestIsUnicast(t *testing.T) {
	raw := newRenewRequest(0x0A0B0C0D, testMAC, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1))
	frame, _ := ethframe.ParseFrame(raw)
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !dgram.DstIP.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Fatalf("dst ip = %s", dgram.DstIP)
	}
	// ciaddr carries the current address while renewing
	if !net.IP(dgram.Payload[12:16]).Equal(net.IPv4(10, 0, 0, 5).To4()) {
		t.Fatalf("ciaddr = % x", dgram.Payload[12:16])
	}
}

// buildReply builds a server reply frame for tests.
func buildReply(xid uint32, msgType byte, yiaddr, serverID net.IP, extra []byte) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(2) // BOOTREPLY
	buf.WriteByte(1)
	buf.WriteByte(6)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, xid)
	buf.Write(make([]byte, 8)) // secs, flags, ciaddr
	writeIPv4(buf, yiaddr)
	buf.Write(make([]byte, 8)) // siaddr, giaddr
	var chaddr [16]byte
	copy(chaddr[:], testMAC)
	buf.Write(chaddr[:])
	buf.Write(make([]byte, 192))
	buf.Write(magicCookie)
	buf.Write([]byte{53, 1, msgType})
	if serverID != nil {
		buf.Write(append([]byte{54, 4}, serverID.To4()...))
	}
	buf.Write(extra)
	buf.WriteByte(255)

	packet := ethframe.BuildIPv4UDP(net.IPv4(10, 0, 0, 1), net.IPv4bcast, 67, 68, buf.Bytes())
	return ethframe.BuildFrame(ethframe.BroadcastMAC, net.HardwareAddr{0xDE, 0xAD, 0, 0, 0, 1},
		ethframe.EtherTypeIPv4, packet)
}

func TestParseReplyOffer(t *testing.T) {
	raw := buildReply(0xDEADBEEF, msgOffer, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), nil)
	frame, _ := ethframe.ParseFrame(raw)
	r, err := parseReply(frame)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("reply not recognized")
	}
	if r.msgType != msgOffer || r.xid != 0xDEADBEEF {
		t.Fatalf("type=%d xid=%08x", r.msgType, r.xid)
	}
	if !r.yiaddr.Equal(net.IPv4(10, 0, 0, 5)) || !r.serverID.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Fatalf("yiaddr=%s serverID=%s", r.yiaddr, r.serverID)
	}
}

func TestParseReplyIgnoresForeignTraffic(t *testing.T) {
	// An ARP frame must be ignored, not treated as an error.
	payload := ethframe.BuildARP(ethframe.ARPOpRequest, testMAC,
		net.IPv4(10, 0, 0, 5), ethframe.ZeroMAC, net.IPv4(10, 0, 0, 9))
	raw := ethframe.BuildFrame(ethframe.BroadcastMAC, testMAC, ethframe.EtherTypeARP, payload)
	frame, _ := ethframe.ParseFrame(raw)
	r, err := parseReply(frame)
	if err != nil || r != nil {
		t.Fatalf("r=%v err=%v", r, err)
	}
}

func TestParseReplyRejectsBadCookie(t *testing.T) {
	raw := buildReply(1, msgAck, net.IPv4(10, 0, 0, 5), nil, nil)
	// corrupt the cookie (eth 14 + ip 20 + udp 8 + offset 236)
	raw[14+20+8+236] = 0x00
	frame, _ := ethframe.ParseFrame(raw)
	if _, err := parseReply(frame); err == nil {
		t.Fatal("expected cookie error")
	}
}
