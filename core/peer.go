/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

// PeerState is a peer record's connection lifecycle state (spec §4.K).
type PeerState int

const (
	PeerDiscovered PeerState = iota
	PeerConnecting
	PeerHandshaking
	PeerConnected
	PeerDisconnected
	PeerBanned
)

// Presence is a peer's last-known online status.
type Presence int

const (
	PresenceOffline Presence = iota
	PresenceOnline
)

// Peer is one remote device's connection record: identity, state,
// connection quality, and its per-peer replay detector (spec §3, §4.K).
type Peer struct {
	ID             [DeviceIDLen]byte
	PublicIdentity *PublicIdentity
	Name           string
	State          PeerState
	Presence       Presence
	LastSeen       uint64
	LastSequence   uint64
	RTTMs          uint16
	Quality        uint8
	FailedAttempts uint8

	replay *ReplayDetector
}

// NewPeer creates a Discovered peer record.
func NewPeer(id [DeviceIDLen]byte, now uint64) *Peer {
	return &Peer{
		ID:       id,
		State:    PeerDiscovered,
		Presence: PresenceOffline,
		LastSeen: now,
		Quality:  50,
		replay:   NewReplayDetector(id),
	}
}

// CheckSequence runs this peer's replay detector over an inbound sequence
// number (spec §4.D).
func (p *Peer) CheckSequence(sequence uint64) bool {
	return p.replay.Check(sequence)
}

// UpdateQuality recomputes Quality from a fresh RTT sample, using the
// fixed stepwise thresholds from spec §4.K:
// {50,100,200,500,1000} ms → {100,90,75,50,25,10}.
func (p *Peer) UpdateQuality(rttMs uint16) {
	p.RTTMs = rttMs
	switch {
	case rttMs < 50:
		p.Quality = 100
	case rttMs < 100:
		p.Quality = 90
	case rttMs < 200:
		p.Quality = 75
	case rttMs < 500:
		p.Quality = 50
	case rttMs < 1000:
		p.Quality = 25
	default:
		p.Quality = 10
	}
}

// MarkConnected transitions the peer to Connected/Online and clears its
// failed-attempt counter.
func (p *Peer) MarkConnected(now uint64) {
	p.State = PeerConnected
	p.Presence = PresenceOnline
	p.LastSeen = now
	p.FailedAttempts = 0
}

// MarkDisconnected transitions the peer to Disconnected/Offline and
// increments its failed-attempt counter.
func (p *Peer) MarkDisconnected() {
	p.State = PeerDisconnected
	p.Presence = PresenceOffline
	p.FailedAttempts++
}

// ShouldRetry reports whether this peer is eligible for a reconnection
// attempt: Disconnected and under maxAttempts failures.
func (p *Peer) ShouldRetry(maxAttempts uint8) bool {
	return p.State == PeerDisconnected && p.FailedAttempts < maxAttempts
}

// Ban moves the peer to the terminal Banned state.
func (p *Peer) Ban() {
	p.State = PeerBanned
}

// IsBanned reports whether the peer is in the terminal Banned state.
func (p *Peer) IsBanned() bool { return p.State == PeerBanned }

// isActive reports whether p is in a state the cleanup sweep must never
// evict regardless of age (spec §4.K: "Connected/Connecting/Handshaking
// are never swept").
func (p *Peer) isActive() bool {
	return p.State == PeerConnected || p.State == PeerConnecting || p.State == PeerHandshaking
}

// PeerTable is the process-wide, capacity-bounded set of known peers
// (spec §3, §4.K, §5). At capacity, adding a new peer evicts the
// non-active peer with the oldest LastSeen.
type PeerTable struct {
	capacity int
	byID     map[[DeviceIDLen]byte]*Peer
}

// NewPeerTable constructs an empty table bounded at capacity entries
// (spec §6 default: 16).
func NewPeerTable(capacity int) *PeerTable {
	return &PeerTable{capacity: capacity, byID: make(map[[DeviceIDLen]byte]*Peer)}
}

// Get looks up a peer by device ID.
func (t *PeerTable) Get(id [DeviceIDLen]byte) (*Peer, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// GetOrCreate returns the existing peer record for id, or creates and
// inserts a new Discovered one, evicting the oldest non-active peer first
// if the table is already at capacity.
func (t *PeerTable) GetOrCreate(id [DeviceIDLen]byte, now uint64) *Peer {
	if p, ok := t.byID[id]; ok {
		return p
	}
	if len(t.byID) >= t.capacity {
		t.evictOldest()
	}
	p := NewPeer(id, now)
	t.byID[id] = p
	return p
}

// evictOldest drops the non-active peer with the smallest LastSeen. If
// every peer is active, no eviction happens and the table temporarily
// exceeds capacity by one rather than silently dropping an active session.
func (t *PeerTable) evictOldest() {
	var oldestID [DeviceIDLen]byte
	var oldest *Peer
	for id, p := range t.byID {
		if p.isActive() {
			continue
		}
		if oldest == nil || p.LastSeen < oldest.LastSeen {
			oldest = p
			oldestID = id
		}
	}
	if oldest != nil {
		delete(t.byID, oldestID)
	}
}

// Remove deletes a peer record outright.
func (t *PeerTable) Remove(id [DeviceIDLen]byte) {
	delete(t.byID, id)
}

// Ban marks a peer Banned if present.
func (t *PeerTable) Ban(id [DeviceIDLen]byte) {
	if p, ok := t.byID[id]; ok {
		p.Ban()
	}
}

// Connected returns all peers currently in the Connected state.
func (t *PeerTable) Connected() []*Peer {
	var out []*Peer
	for _, p := range t.byID {
		if p.State == PeerConnected {
			out = append(out, p)
		}
	}
	return out
}

// ToRetry returns all peers eligible for a reconnection attempt.
func (t *PeerTable) ToRetry(maxAttempts uint8) []*Peer {
	var out []*Peer
	for _, p := range t.byID {
		if p.ShouldRetry(maxAttempts) {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the total number of tracked peers.
func (t *PeerTable) Count() int { return len(t.byID) }

// Cleanup drops Disconnected peers whose LastSeen is older than
// maxAgeMs; Connected/Connecting/Handshaking peers are never swept
// regardless of age (spec §4.K).
func (t *PeerTable) Cleanup(now uint64, maxAgeMs uint64) {
	cutoff := uint64(0)
	if now > maxAgeMs {
		cutoff = now - maxAgeMs
	}
	for id, p := range t.byID {
		if p.isActive() {
			continue
		}
		if p.State == PeerDisconnected && p.LastSeen <= cutoff {
			delete(t.byID, id)
		}
	}
}
