/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"encoding/binary"
	"fmt"
)

// nonceRingSize is the number of recently observed discovery nonces kept
// across all remotes (spec §4.I): "each receiver keeps a ring of the last
// 32 observed 8-byte nonces across all remotes".
const nonceRingSize = 32

// AnnouncementKind tags the four discovery frame purposes (spec §3).
type AnnouncementKind uint8

const (
	AnnounceQuery AnnouncementKind = iota
	AnnounceResponse
	AnnounceAnnounce
	AnnounceGoodbye
)

// Announcement is the broadcast frame a device periodically emits to make
// itself discoverable (spec §4.I, §6 wire layout).
type Announcement struct {
	Kind           AnnouncementKind
	DeviceID       [DeviceIDLen]byte
	MessagePort    uint16
	TimestampMs    uint64
	Nonce          [8]byte
	Name           string
	PublicIdentity *PublicIdentity
}

// validateKindInvariant enforces spec §3: "Response and Announce MUST
// include public_identity; Query and Goodbye MUST NOT."
func (a *Announcement) validateKindInvariant() error {
	wantIdentity := a.Kind == AnnounceResponse || a.Kind == AnnounceAnnounce
	if wantIdentity != (a.PublicIdentity != nil) {
		return &Error{Kind: ErrProtocolViolation, Op: "announcement_kind_invariant"}
	}
	return nil
}

// ToBytes serializes an Announcement:
// 4 magic | 1 version | 1 kind | 32 device_id | 2 message_port BE
// | 8 ts_ms LE | 8 nonce | 1 name_len | name_len bytes
// | 1 pubid_present | [96 PublicIdentity].
func (a *Announcement) ToBytes() ([]byte, error) {
	if len(a.Name) > 0xFF {
		return nil, &Error{Kind: ErrResourceLimit, Op: "marshal_announcement"}
	}
	if err := a.validateKindInvariant(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+1+1+DeviceIDLen+2+8+8+1+len(a.Name)+1+PublicIdentityLen)
	out = append(out, Magic[:]...)
	out = append(out, ProtocolVersion, a.Kind)
	out = append(out, a.DeviceID[:]...)

	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.MessagePort)
	out = append(out, portBuf[:]...)

	out = appendU64LE(out, a.TimestampMs)
	out = append(out, a.Nonce[:]...)
	out = append(out, byte(len(a.Name)))
	out = append(out, a.Name...)

	if a.PublicIdentity != nil {
		out = append(out, 1)
		pid := a.PublicIdentity.ToBytes()
		out = append(out, pid[:]...)
	} else {
		out = append(out, 0)
	}
	return out, nil
}

const announcementMinLen = 4 + 1 + 1 + DeviceIDLen + 2 + 8 + 8 + 1

// AnnouncementFromBytes parses an Announcement frame.
func AnnouncementFromBytes(b []byte) (*Announcement, error) {
	if len(b) < announcementMinLen {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_announcement"}
	}
	off := 0
	if !ConstantTimeEqual(b[off:off+4], Magic[:]) {
		return nil, wrapErr(ErrProtocolViolation, "parse_announcement", fmt.Errorf("bad magic"))
	}
	off += 4

	version := b[off]
	off++
	if version > ProtocolVersion {
		return nil, wrapErr(ErrProtocolViolation, "parse_announcement", fmt.Errorf("unsupported version %d", version))
	}

	a := &Announcement{Kind: AnnouncementKind(b[off])}
	off++

	copy(a.DeviceID[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen

	a.MessagePort = binary.BigEndian.Uint16(b[off : off+2])
	off += 2

	a.TimestampMs = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	copy(a.Nonce[:], b[off:off+8])
	off += 8

	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_announcement"}
	}
	a.Name = string(b[off : off+nameLen])
	off += nameLen

	if off >= len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_announcement"}
	}
	if b[off] == 1 {
		off++
		if off+PublicIdentityLen > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_announcement"}
		}
		pid, err := PublicIdentityFromBytes(b[off : off+PublicIdentityLen])
		if err != nil {
			return nil, err
		}
		a.PublicIdentity = &pid
	}

	if err := a.validateKindInvariant(); err != nil {
		return nil, err
	}
	return a, nil
}

// DiscoveryFilter admits or rejects inbound Announcement frames: it
// enforces freshness, a cross-peer nonce-replay ring, and an
// own-announcement filter (spec §4.I).
type DiscoveryFilter struct {
	timeoutMs  uint64
	localID    [DeviceIDLen]byte
	nonceRing  [nonceRingSize][8]byte
	ringFilled int
	ringNext   int
}

// NewDiscoveryFilter constructs a filter with the given freshness timeout.
// SetLocalDeviceID must be called before own-announcement filtering is
// effective; until then, no device_id is treated as "own".
func NewDiscoveryFilter(timeoutMs uint64) *DiscoveryFilter {
	return &DiscoveryFilter{timeoutMs: timeoutMs}
}

// SetLocalDeviceID configures which device_id is filtered out as our own
// announcement.
func (d *DiscoveryFilter) SetLocalDeviceID(id [DeviceIDLen]byte) {
	d.localID = id
}

func (d *DiscoveryFilter) seenNonce(nonce [8]byte) bool {
	for i := 0; i < d.ringFilled; i++ {
		if d.nonceRing[i] == nonce {
			return true
		}
	}
	return false
}

func (d *DiscoveryFilter) recordNonce(nonce [8]byte) {
	d.nonceRing[d.ringNext] = nonce
	d.ringNext = (d.ringNext + 1) % nonceRingSize
	if d.ringFilled < nonceRingSize {
		d.ringFilled++
	}
}

// Admit reports whether a, observed at nowMs, should be accepted: it is
// not our own announcement, its timestamp is fresh, and its nonce has not
// been seen before from any sender. An admitted announcement's nonce is
// recorded so a later replay (even from a different device_id) is
// rejected.
func (d *DiscoveryFilter) Admit(a *Announcement, nowMs uint64) bool {
	if a.DeviceID == d.localID {
		return false
	}
	if nowMs < a.TimestampMs || nowMs-a.TimestampMs >= d.timeoutMs {
		return false
	}
	if d.seenNonce(a.Nonce) {
		return false
	}
	d.recordNonce(a.Nonce)
	return true
}
