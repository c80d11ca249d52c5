package dhcp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raa-org/sevpn/internal/ethframe"
	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/workers"
	"github.com/raa-org/sevpn/pkg/config"
)

// xidOf extracts the transaction ID from an outgoing client frame.
func xidOf(t *testing.T, raw []byte) uint32 {
	t.Helper()
	frame, err := ethframe.ParseFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	return binary.BigEndian.Uint32(dgram.Payload[4:8])
}

// msgTypeOf extracts the option-53 value from an outgoing client frame.
func msgTypeOf(t *testing.T, raw []byte) byte {
	t.Helper()
	frame, _ := ethframe.ParseFrame(raw)
	dgram, err := ethframe.ParseIPv4UDP(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	opts := dgram.Payload[240:]
	for i := 0; i < len(opts); {
		if opts[i] == 255 {
			break
		}
		if opts[i] == 0 {
			i++
			continue
		}
		if opts[i] == 53 {
			return opts[i+2]
		}
		i += 2 + int(opts[i+1])
	}
	t.Fatal("no message type option")
	return 0
}

func newTestService(t *testing.T) (*Service, *workers.Manager, chan []byte) {
	t.Helper()
	frameDown := make(chan []byte, 16)
	svc := &Service{
		Start:         make(chan any, 1),
		IncomingFrame: make(chan []byte, 16),
		FrameDown:     &frameDown,
		Bound:         make(chan *model.NetworkParameters, 1),
		Renewed:       make(chan *model.NetworkParameters, 1),
		Failed:        make(chan error, 1),
	}
	manager := workers.NewManager(log.Log)
	svc.StartWorkers(config.NewConfig(config.WithLogger(log.Log)), manager, testMAC)
	t.Cleanup(func() {
		manager.StartShutdown()
		manager.WaitWorkersDone()
	})
	return svc, manager, frameDown
}

func TestLeaseHappyPath(t *testing.T) {
	svc, _, frameDown := newTestService(t)

	svc.Start <- true
	discover := <-frameDown
	if got := msgTypeOf(t, discover); got != msgDiscover {
		t.Fatalf("first message type = %d", got)
	}
	xid := xidOf(t, discover)

	extra := []byte{
		51, 4, 0, 0, 0x0E, 0x10, // lease 3600
	}
	svc.IncomingFrame <- buildReply(xid, msgOffer, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), extra)

	request := <-frameDown
	if got := msgTypeOf(t, request); got != msgRequest {
		t.Fatalf("second message type = %d", got)
	}
	if got := xidOf(t, request); got != xid {
		t.Fatalf("request xid = %08x, want %08x", got, xid)
	}

	ackExtra := []byte{
		1, 4, 255, 255, 255, 0, // subnet mask
		3, 4, 10, 0, 0, 1, // router
		6, 4, 10, 0, 0, 53, // dns
		51, 4, 0, 0, 0x0E, 0x10, // lease 3600
	}
	svc.IncomingFrame <- buildReply(xid, msgAck, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), ackExtra)

	select {
	case params := <-svc.Bound:
		assert.True(t, params.ClientIPv4.Equal(net.IPv4(10, 0, 0, 5)), "client ip = %s", params.ClientIPv4)
		assert.Equal(t, net.IPv4Mask(255, 255, 255, 0), params.SubnetMask)
		assert.True(t, params.GatewayIPv4.Equal(net.IPv4(10, 0, 0, 1)), "gateway = %s", params.GatewayIPv4)
		require.Len(t, params.DNSServers, 1)
		assert.True(t, params.DNSServers[0].Equal(net.IPv4(10, 0, 0, 53)), "dns = %v", params.DNSServers)
		assert.Equal(t, 1400, params.MTU)
		assert.Equal(t, uint32(3600), params.LeaseSeconds)
	case <-time.After(2 * time.Second):
		t.Fatal("no Bound report")
	}
}

func TestNakRestartsCycle(t *testing.T) {
	svc, _, frameDown := newTestService(t)

	svc.Start <- true
	discover := <-frameDown
	xid := xidOf(t, discover)

	svc.IncomingFrame <- buildReply(xid, msgOffer, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), nil)
	<-frameDown // request

	svc.IncomingFrame <- buildReply(xid, msgNak, nil, net.IPv4(10, 0, 0, 1), nil)

	select {
	case frame := <-frameDown:
		if got := msgTypeOf(t, frame); got != msgDiscover {
			t.Fatalf("after NAK message type = %d, want discover", got)
		}
		if got := xidOf(t, frame); got == xid {
			t.Fatal("NAK restart must pick a fresh xid")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no discover after NAK")
	}
}

func TestAckWithoutMaskFails(t *testing.T) {
	svc, _, frameDown := newTestService(t)

	svc.Start <- true
	xid := xidOf(t, <-frameDown)

	svc.IncomingFrame <- buildReply(xid, msgOffer, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), nil)
	<-frameDown // request

	// ACK without option 1: incomplete configuration
	svc.IncomingFrame <- buildReply(xid, msgAck, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), nil)

	select {
	case err := <-svc.Failed:
		if err != ErrIncompleteConfig {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure report")
	}
}

func TestOfferXIDMismatchIgnored(t *testing.T) {
	svc, _, frameDown := newTestService(t)

	svc.Start <- true
	xid := xidOf(t, <-frameDown)

	svc.IncomingFrame <- buildReply(xid^0xFFFF, msgOffer, net.IPv4(10, 0, 0, 5), net.IPv4(10, 0, 0, 1), nil)

	select {
	case frame := <-frameDown:
		// Only a resend (another discover) may show up; a request
		// would mean the foreign offer was accepted.
		if got := msgTypeOf(t, frame); got == msgRequest {
			t.Fatal("foreign xid offer was accepted")
		}
	case <-time.After(1200 * time.Millisecond):
		// nothing emitted: fine
	}
}
