/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "testing"

func TestPeerQualityThresholds(t *testing.T) {
	var id [DeviceIDLen]byte
	p := NewPeer(id, 0)

	cases := []struct {
		rtt  uint16
		want uint8
	}{
		{30, 100},
		{150, 75},
		{800, 25},
		{1500, 10},
	}
	for _, c := range cases {
		p.UpdateQuality(c.rtt)
		if p.Quality != c.want {
			t.Fatalf("rtt %d: got quality %d, want %d", c.rtt, p.Quality, c.want)
		}
	}
}

func TestPeerConnectDisconnectCycle(t *testing.T) {
	var id [DeviceIDLen]byte
	p := NewPeer(id, 0)
	p.FailedAttempts = 3

	p.MarkConnected(100)
	if p.State != PeerConnected || p.Presence != PresenceOnline || p.FailedAttempts != 0 {
		t.Fatal("expected connected state reset")
	}

	p.MarkDisconnected()
	if p.State != PeerDisconnected || p.Presence != PresenceOffline || p.FailedAttempts != 1 {
		t.Fatal("expected disconnected state with incremented failures")
	}
}

func TestPeerShouldRetry(t *testing.T) {
	var id [DeviceIDLen]byte
	p := NewPeer(id, 0)
	p.State = PeerDisconnected
	p.FailedAttempts = 2

	if !p.ShouldRetry(5) {
		t.Fatal("expected retry eligible below max attempts")
	}
	if p.ShouldRetry(2) {
		t.Fatal("expected retry ineligible at max attempts")
	}
}

func TestPeerTableEvictsOldestOnCapacity(t *testing.T) {
	table := NewPeerTable(2)
	var a, b, c [DeviceIDLen]byte
	a[0], b[0], c[0] = 1, 2, 3

	table.GetOrCreate(a, 100)
	table.GetOrCreate(b, 200)
	if table.Count() != 2 {
		t.Fatalf("expected 2 peers, got %d", table.Count())
	}

	table.GetOrCreate(c, 300)
	if table.Count() != 2 {
		t.Fatalf("expected eviction to keep count at capacity, got %d", table.Count())
	}
	if _, ok := table.Get(a); ok {
		t.Fatal("expected oldest peer (a) to be evicted")
	}
	if _, ok := table.Get(b); !ok {
		t.Fatal("expected b to survive eviction")
	}
}

func TestPeerTableNeverEvictsActivePeers(t *testing.T) {
	table := NewPeerTable(1)
	var a, b [DeviceIDLen]byte
	a[0], b[0] = 1, 2

	pa := table.GetOrCreate(a, 0)
	pa.State = PeerConnected

	table.GetOrCreate(b, 100)
	if _, ok := table.Get(a); !ok {
		t.Fatal("expected active peer a to survive even over capacity")
	}
}

func TestPeerTableCleanup(t *testing.T) {
	table := NewPeerTable(16)
	var a [DeviceIDLen]byte
	a[0] = 1

	p := table.GetOrCreate(a, 0)
	p.MarkDisconnected()
	p.LastSeen = 0

	table.Cleanup(10000, 1000)
	if _, ok := table.Get(a); ok {
		t.Fatal("expected stale disconnected peer to be cleaned up")
	}
}

func TestPeerTableCleanupSparesActiveStates(t *testing.T) {
	table := NewPeerTable(16)
	var a [DeviceIDLen]byte
	a[0] = 1

	p := table.GetOrCreate(a, 0)
	p.State = PeerHandshaking
	p.LastSeen = 0

	table.Cleanup(10000, 1000)
	if _, ok := table.Get(a); !ok {
		t.Fatal("expected handshaking peer to survive cleanup regardless of age")
	}
}
