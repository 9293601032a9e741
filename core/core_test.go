/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "testing"

// deliverQueued drains src's outbound queue and feeds every drained frame,
// whatever its PeerID, through dst.OnReceiveFrame, simulating a perfectly
// reliable transport between exactly two peers.
func deliverQueued(t *testing.T, src, dst *Core, srcID, dstID [DeviceIDLen]byte, now uint64) {
	t.Helper()
	for _, f := range src.DrainOutbound() {
		if err := dst.OnReceiveFrame(srcID, f.Bytes, now); err != nil {
			t.Fatalf("OnReceiveFrame: %v", err)
		}
	}
	_ = dstID
}

func newTestCore(t *testing.T) (*Core, [DeviceIDLen]byte) {
	t.Helper()
	id := GenerateIdentity()
	c := NewCore(id, NewConfig(), ConnFrame, nil)
	return c, id.DeviceID()
}

func TestCoreHandshakeAndMessageRoundTrip(t *testing.T) {
	alice, aliceID := newTestCore(t)
	bob, bobID := newTestCore(t)

	now := uint64(1000)
	if err := alice.StartHandshake(bobID, now); err != nil {
		t.Fatalf("start handshake: %v", err)
	}

	// Hello: Alice -> Bob
	deliverQueued(t, alice, bob, aliceID, bobID, now)
	// Response: Bob -> Alice
	deliverQueued(t, bob, alice, bobID, aliceID, now)
	// Confirm: Alice -> Bob
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	ap, ok := alice.Peers().Get(bobID)
	if !ok || ap.State != PeerConnected {
		t.Fatalf("expected alice to see bob connected, got %+v", ap)
	}
	bp, ok := bob.Peers().Get(aliceID)
	if !ok || bp.State != PeerConnected {
		t.Fatalf("expected bob to see alice connected, got %+v", bp)
	}

	var delivered *ChatMessage
	bob.SetMessageHandler(func(peerID [DeviceIDLen]byte, msg *ChatMessage) {
		if peerID != aliceID {
			t.Fatalf("message attributed to wrong peer")
		}
		delivered = msg
	})

	msg, err := NewTextMessage(aliceID, bobID, "hello bob", 1, now)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	if err := alice.SendMessage(msg, true); err != nil {
		t.Fatalf("send message: %v", err)
	}
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	if delivered == nil {
		t.Fatal("expected bob to receive a message")
	}
	text, ok := delivered.Text()
	if !ok || text != "hello bob" {
		t.Fatalf("got %q, ok=%v", text, ok)
	}
}

func TestCoreRejectsSecondMessageWithSameSequence(t *testing.T) {
	alice, aliceID := newTestCore(t)
	bob, bobID := newTestCore(t)
	now := uint64(1000)

	if err := alice.StartHandshake(bobID, now); err != nil {
		t.Fatalf("start handshake: %v", err)
	}
	deliverQueued(t, alice, bob, aliceID, bobID, now)
	deliverQueued(t, bob, alice, bobID, aliceID, now)
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	delivered := 0
	bob.SetMessageHandler(func(_ [DeviceIDLen]byte, _ *ChatMessage) { delivered++ })

	msg, _ := NewTextMessage(aliceID, bobID, "one", 5, now)
	if err := alice.SendMessage(msg, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	replay, _ := NewTextMessage(aliceID, bobID, "one", 5, now)
	if err := alice.SendMessage(replay, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}
}

func TestCoreRateLimitsHandshakeHellos(t *testing.T) {
	bob, bobID := newTestCore(t)
	alice, aliceID := newTestCore(t)
	now := uint64(1000)

	for i := 0; i < RateLimitAttempts; i++ {
		if err := alice.StartHandshake(bobID, now); err != nil {
			t.Fatalf("start handshake %d: %v", i, err)
		}
		deliverQueued(t, alice, bob, aliceID, bobID, now)
		bob.DrainOutbound() // discard the Response, we only care about admission
	}

	if err := alice.StartHandshake(bobID, now); err != nil {
		t.Fatalf("start handshake: %v", err)
	}
	deliverQueued(t, alice, bob, aliceID, bobID, now)

	out := bob.DrainOutbound()
	if len(out) != 1 {
		t.Fatalf("expected exactly one reply frame, got %d", len(out))
	}
	frame, err := HandshakeFrameFromBytes(out[0].Bytes[2:]) // strip ConnFrame length prefix
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if frame.Type != HandshakeReject {
		t.Fatalf("expected the 4th Hello within the window to be rejected, got type %d", frame.Type)
	}
}

func TestCoreAnnouncementAdmission(t *testing.T) {
	local, _ := newTestCore(t)
	remoteID := GenerateIdentity()

	a := &Announcement{
		Kind:        AnnounceQuery,
		DeviceID:    remoteID.DeviceID(),
		MessagePort: 9000,
		TimestampMs: 1000,
	}
	copy(a.Nonce[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	wire, err := a.ToBytes()
	if err != nil {
		t.Fatalf("to bytes: %v", err)
	}

	parsed, admitted := local.OnAnnouncement(wire, 1000)
	if !admitted {
		t.Fatal("expected first announcement to be admitted")
	}
	if parsed.DeviceID != remoteID.DeviceID() {
		t.Fatal("parsed device id mismatch")
	}
	if _, ok := local.Peers().Get(remoteID.DeviceID()); !ok {
		t.Fatal("expected announcement to create a peer record")
	}

	_, admitted = local.OnAnnouncement(wire, 1000)
	if admitted {
		t.Fatal("expected replayed nonce to be rejected")
	}
}

func TestCoreIgnoresOwnAnnouncement(t *testing.T) {
	local, localID := newTestCore(t)

	a := &Announcement{
		Kind:        AnnounceQuery,
		DeviceID:    localID,
		MessagePort: 9000,
		TimestampMs: 1000,
	}
	copy(a.Nonce[:], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	wire, err := a.ToBytes()
	if err != nil {
		t.Fatalf("to bytes: %v", err)
	}

	if _, admitted := local.OnAnnouncement(wire, 1000); admitted {
		t.Fatal("expected own announcement to be filtered")
	}
}
