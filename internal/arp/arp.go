// Package arp implements the ARP resolver and cache used to pick the
// destination MAC of outbound Ethernet frames. The resolver is owned
// by the session lane: every method must be called from it.
package arp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/raa-org/sevpn/internal/ethframe"
	"github.com/raa-org/sevpn/internal/model"
)

const (
	// cacheTTL is how long a resolved entry stays valid.
	cacheTTL = 60 * time.Second

	// announceInterval is the gratuitous announcement cadence.
	announceInterval = 30 * time.Second

	// requestSpacing is the gap between retries of an unanswered request.
	requestSpacing = 2 * time.Second

	// maxAttempts caps the retries of a pending resolution.
	maxAttempts = 4
)

// cacheEntry is a resolved mapping.
type cacheEntry struct {
	mac     net.HardwareAddr
	updated time.Time
}

// pendingEntry tracks an in-flight resolution.
type pendingEntry struct {
	attempts int
	lastSent time.Time
}

// Resolver resolves IPv4 addresses to MAC addresses on the tunnel
// link. The zero value is invalid; construct with [NewResolver].
type Resolver struct {
	logger model.Logger

	myIP  net.IP
	myMAC net.HardwareAddr

	cache   map[uint32]*cacheEntry
	pending map[uint32]*pendingEntry

	// emit is the capability to send an Ethernet frame. It must not
	// retain the slice.
	emit func(frame []byte)

	lastAnnounce time.Time

	started bool
}

// NewResolver creates a [Resolver] for the given tunnel identity.
func NewResolver(logger model.Logger, myIP net.IP, myMAC net.HardwareAddr, emit func(frame []byte)) *Resolver {
	return &Resolver{
		logger:  logger,
		myIP:    myIP.To4(),
		myMAC:   myMAC,
		cache:   make(map[uint32]*cacheEntry),
		pending: make(map[uint32]*pendingEntry),
		emit:    emit,
	}
}

// Start announces our binding and begins answering requests.
func (r *Resolver) Start(now time.Time) {
	r.started = true
	r.Announce(now)
}

// Stop clears all state.
func (r *Resolver) Stop() {
	r.started = false
	r.cache = make(map[uint32]*cacheEntry)
	r.pending = make(map[uint32]*pendingEntry)
}

// Resolve returns the MAC for ip when present and fresh.
func (r *Resolver) Resolve(ip net.IP, now time.Time) (net.HardwareAddr, bool) {
	entry, ok := r.cache[ipKey(ip)]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.updated) > cacheTTL {
		return nil, false
	}
	return entry.mac, true
}

// Request issues an ARP request for ip unless one is already in
// flight or the retry budget is exhausted. Idempotent.
func (r *Resolver) Request(ip net.IP, now time.Time) {
	if !r.started {
		return
	}
	key := ipKey(ip)
	entry, ok := r.pending[key]
	if !ok {
		entry = &pendingEntry{}
		r.pending[key] = entry
	}
	if entry.attempts >= maxAttempts {
		return
	}
	if entry.attempts > 0 && now.Sub(entry.lastSent) < requestSpacing {
		return
	}
	entry.attempts++
	entry.lastSent = now
	r.logger.Debugf("arp: request %s (attempt %d)", ip, entry.attempts)
	payload := ethframe.BuildARP(ethframe.ARPOpRequest, r.myMAC, r.myIP, ethframe.ZeroMAC, ip)
	r.emit(ethframe.BuildFrame(ethframe.BroadcastMAC, r.myMAC, ethframe.EtherTypeARP, payload))
}

// OnIncoming processes an incoming ARP payload. Requests for our
// address are answered; replies refresh the cache.
func (r *Resolver) OnIncoming(payload []byte, now time.Time) {
	if !r.started {
		return
	}
	arp, err := ethframe.ParseARP(payload)
	if err != nil {
		r.logger.Debugf("arp: dropping payload: %s", err.Error())
		return
	}

	switch arp.Op {
	case ethframe.ARPOpRequest:
		if !arp.TargetIP.Equal(r.myIP) {
			return
		}
		reply := ethframe.BuildARP(ethframe.ARPOpReply, r.myMAC, r.myIP, arp.SenderMAC, arp.SenderIP)
		r.emit(ethframe.BuildFrame(arp.SenderMAC, r.myMAC, ethframe.EtherTypeARP, reply))
		// The requester's mapping is fresh knowledge too.
		r.learn(arp.SenderIP, arp.SenderMAC, now)

	case ethframe.ARPOpReply:
		r.learn(arp.SenderIP, arp.SenderMAC, now)
	}
}

// learn refreshes the cache and clears the pending state.
func (r *Resolver) learn(ip net.IP, mac net.HardwareAddr, now time.Time) {
	if ip.To4() == nil || len(mac) != 6 {
		return
	}
	key := ipKey(ip)
	r.cache[key] = &cacheEntry{
		mac:     append(net.HardwareAddr(nil), mac...),
		updated: now,
	}
	delete(r.pending, key)
}

// Tick drives retries and the periodic gratuitous announcement.
func (r *Resolver) Tick(now time.Time) {
	if !r.started {
		return
	}
	if now.Sub(r.lastAnnounce) >= announceInterval {
		r.Announce(now)
	}
	for key, entry := range r.pending {
		if entry.attempts >= maxAttempts {
			continue
		}
		if now.Sub(entry.lastSent) < requestSpacing {
			continue
		}
		entry.attempts++
		entry.lastSent = now
		ip := keyIP(key)
		r.logger.Debugf("arp: retry %s (attempt %d)", ip, entry.attempts)
		payload := ethframe.BuildARP(ethframe.ARPOpRequest, r.myMAC, r.myIP, ethframe.ZeroMAC, ip)
		r.emit(ethframe.BuildFrame(ethframe.BroadcastMAC, r.myMAC, ethframe.EtherTypeARP, payload))
	}
}

// Announce sends a gratuitous reply (sender == target == us) to the
// broadcast address, keeping the server's L2 table warm.
func (r *Resolver) Announce(now time.Time) {
	r.lastAnnounce = now
	payload := ethframe.BuildARP(ethframe.ARPOpReply, r.myMAC, r.myIP, r.myMAC, r.myIP)
	r.emit(ethframe.BuildFrame(ethframe.BroadcastMAC, r.myMAC, ethframe.EtherTypeARP, payload))
}

// ipKey maps an IPv4 address to a cache key.
func ipKey(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// keyIP reverses [ipKey].
func keyIP(key uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, key)
	return ip
}
