/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
)

// Hash is SHA-256, H() throughout the spec.
func Hash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// Random fills and returns n uniform random bytes from the platform CSPRNG.
// It never falls back to a weaker source; a read failure is a fatal
// invariant (crypto/rand.Read only fails if the OS entropy source itself is
// broken, which this package treats as unrecoverable rather than silently
// degrading, per spec §4.A).
func Random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("core: system entropy source failed: " + err.Error())
	}
	return b
}

// Random32 is the fixed-size form used for nonces and key material.
func Random32() [32]byte {
	var b [32]byte
	copy(b[:], Random(32))
	return b
}

// ConstantTimeEqual reports whether a and b are equal, in time independent
// of which byte differs. Lengths are public (spec §9): a length mismatch
// returns false immediately without a constant-time comparison, since the
// length itself is not secret.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecretBytes is an owning wrapper around sensitive byte material —
// secret keys, DH outputs, derived keys, or decrypted plaintext — that
// guarantees its backing array is overwritten with zero when Zero is
// called, on every control-flow path including errors (spec §9 "Secret
// lifetime and destruction").
type SecretBytes struct {
	b []byte
}

// NewSecretBytes takes ownership of b; the caller must not retain or reuse
// b directly afterward.
func NewSecretBytes(b []byte) *SecretBytes {
	return &SecretBytes{b: b}
}

// Bytes returns the live backing slice. The returned slice aliases internal
// storage and becomes invalid after Zero.
func (s *SecretBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Zero overwrites the backing array with zero bytes. Safe to call multiple
// times and on a nil receiver.
func (s *SecretBytes) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
}

// zero is a free function for zeroing fixed-size arrays in place, used
// throughout the handshake and envelope code for intermediate DH outputs
// and derived keys that are never wrapped in a SecretBytes (teacher's own
// setZero() helper in device/noise-protocol.go is the direct precedent).
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
