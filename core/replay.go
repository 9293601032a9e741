/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

// ReplayDetector tracks the sequence numbers seen from one peer using a
// sliding 64-bit bitmap, so a sequence number can be rejected as replayed
// without storing the full history of numbers seen (spec §4.D).
type ReplayDetector struct {
	highestSeq uint64
	bitmap     uint64
	peerID     [DeviceIDLen]byte
}

// NewReplayDetector constructs a detector for one peer, starting with an
// empty window.
func NewReplayDetector(peerID [DeviceIDLen]byte) *ReplayDetector {
	return &ReplayDetector{peerID: peerID}
}

// Check reports whether sequence is acceptable and, if so, marks it as
// seen. Sequence 0 is never valid. A sequence more than 63 below the
// highest seen so far is rejected as too old; within the window, a
// sequence already marked is rejected as a replay.
func (d *ReplayDetector) Check(sequence uint64) bool {
	if sequence == 0 {
		return false
	}
	if sequence > d.highestSeq {
		shift := sequence - d.highestSeq
		if shift >= 64 {
			d.bitmap = 1
		} else {
			d.bitmap = (d.bitmap << shift) | 1
		}
		d.highestSeq = sequence
		return true
	}
	diff := d.highestSeq - sequence
	if diff >= 64 {
		return false
	}
	mask := uint64(1) << diff
	if d.bitmap&mask != 0 {
		return false
	}
	d.bitmap |= mask
	return true
}

// PeerID returns the peer this detector tracks.
func (d *ReplayDetector) PeerID() [DeviceIDLen]byte { return d.peerID }
