/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"crypto/ed25519"
	"encoding/binary"

	"golang.org/x/crypto/curve25519"
)

// PublicIdentityLen is the wire size of a PublicIdentity (spec §6):
// 32 device_id ‖ 32 sig_pk ‖ 32 kex_pk.
const PublicIdentityLen = 96

// Identity holds one device's full keypair set: an Ed25519 signing key and
// an X25519 key-agreement key. Both secrets are owned by this struct and
// are zeroized by Destroy.
type Identity struct {
	sigSeed [32]byte // Ed25519 seed; ed25519.NewKeyFromSeed expands it
	sigPub  [32]byte
	kexSec  [32]byte // X25519 scalar
	kexPub  [32]byte
	deviceID [32]byte
}

// PublicIdentity is the subset of an Identity a device shares with peers:
// device_id ‖ sig_pk ‖ kex_pk, with device_id = H(sig_pk ‖ kex_pk) (spec
// §4.B, §6). Recipients MUST verify that relation before trusting it.
type PublicIdentity struct {
	DeviceID [32]byte
	SigPub   [32]byte
	KexPub   [32]byte
}

func deriveDeviceID(sigPub, kexPub [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[:32], sigPub[:])
	copy(combined[32:], kexPub[:])
	return Hash(combined[:])
}

func kexPublicFromSecret(sec [32]byte) [32]byte {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &sec)
	return pub
}

// GenerateIdentity creates a fresh Identity from the system CSPRNG.
func GenerateIdentity() *Identity {
	var sigSeed, kexSec [32]byte
	copy(sigSeed[:], Random(32))
	copy(kexSec[:], Random(32))
	return identityFromSecrets(sigSeed, kexSec)
}

// IdentityFromSecrets restores an Identity from previously persisted
// 32-byte signing and key-agreement secrets (spec §4.B: the 64-byte
// plaintext inside a persisted identity blob is sig_sk ‖ kex_sk).
func IdentityFromSecrets(sigSeed, kexSec [32]byte) *Identity {
	return identityFromSecrets(sigSeed, kexSec)
}

func identityFromSecrets(sigSeed, kexSec [32]byte) *Identity {
	sigPriv := ed25519.NewKeyFromSeed(sigSeed[:])
	var sigPub [32]byte
	copy(sigPub[:], sigPriv.Public().(ed25519.PublicKey))
	kexPub := kexPublicFromSecret(kexSec)
	return &Identity{
		sigSeed:  sigSeed,
		sigPub:   sigPub,
		kexSec:   kexSec,
		kexPub:   kexPub,
		deviceID: deriveDeviceID(sigPub, kexPub),
	}
}

// DeviceID returns this identity's device ID, H(sig_pk ‖ kex_pk).
func (id *Identity) DeviceID() [32]byte { return id.deviceID }

// Sign signs message with the Ed25519 signing key, returning a 64-byte
// signature.
func (id *Identity) Sign(message []byte) [64]byte {
	priv := ed25519.NewKeyFromSeed(id.sigSeed[:])
	sig := ed25519.Sign(priv, message)
	var out [64]byte
	copy(out[:], sig)
	return out
}

// KeyExchange performs an X25519 Diffie-Hellman exchange between this
// identity's static key-agreement secret and a peer's public key.
func (id *Identity) KeyExchange(peerKexPub [32]byte) ([32]byte, error) {
	return dh(id.kexSec, peerKexPub)
}

// dh performs a raw X25519 scalar multiplication, returning ErrCryptoFailure
// on an all-zero result (a low-order point, which x/crypto/curve25519
// detects and which must never be treated as a valid shared secret).
func dh(secret, peerPub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(secret[:], peerPub[:])
	if err != nil {
		return out, wrapErr(ErrCryptoFailure, "key_exchange", err)
	}
	copy(out[:], shared)
	return out, nil
}

// ExportPublic returns the PublicIdentity a peer would be given.
func (id *Identity) ExportPublic() PublicIdentity {
	return PublicIdentity{DeviceID: id.deviceID, SigPub: id.sigPub, KexPub: id.kexPub}
}

// secretsForPersistence returns the 64-byte sig_sk‖kex_sk plaintext a
// storage collaborator seals (spec §4.B, §6). The caller is responsible
// for zeroizing the returned array once it has been sealed.
func (id *Identity) secretsForPersistence() [64]byte {
	var out [64]byte
	copy(out[:32], id.sigSeed[:])
	copy(out[32:], id.kexSec[:])
	return out
}

// Destroy zeroizes this identity's secret key material.
func (id *Identity) Destroy() {
	zero(id.sigSeed[:])
	zero(id.kexSec[:])
}

// ToBytes serializes a PublicIdentity to its 96-byte wire form.
func (p PublicIdentity) ToBytes() [PublicIdentityLen]byte {
	var out [PublicIdentityLen]byte
	copy(out[0:32], p.DeviceID[:])
	copy(out[32:64], p.SigPub[:])
	copy(out[64:96], p.KexPub[:])
	return out
}

// PublicIdentityFromBytes parses a 96-byte PublicIdentity and verifies that
// device_id = H(sig_pk ‖ kex_pk), as spec §6 requires recipients to do.
func PublicIdentityFromBytes(b []byte) (PublicIdentity, error) {
	if len(b) != PublicIdentityLen {
		return PublicIdentity{}, &Error{Kind: ErrProtocolViolation, Op: "parse_public_identity"}
	}
	var p PublicIdentity
	copy(p.DeviceID[:], b[0:32])
	copy(p.SigPub[:], b[32:64])
	copy(p.KexPub[:], b[64:96])
	if deriveDeviceID(p.SigPub, p.KexPub) != p.DeviceID {
		return PublicIdentity{}, &Error{Kind: ErrProtocolViolation, Op: "parse_public_identity"}
	}
	return p, nil
}

// VerifySignature checks an Ed25519 signature against this PublicIdentity's
// signing key.
func (p PublicIdentity) VerifySignature(message []byte, sig [64]byte) bool {
	return ed25519.Verify(p.SigPub[:], message, sig[:])
}

// IdentityKDFIterations is the default iteration count for
// DeriveIdentityWrapKey; higher values cost more CPU at unlock time in
// exchange for more resistance to offline password guessing. The original
// implementation this is adapted from uses 1000 in its own test suite, but
// recommends a higher production default; this module defaults to 10000.
const IdentityKDFIterations = 10000

// DeriveIdentityWrapKey derives a 32-byte key-wrapping key from password
// and a 16-byte salt, via iterated SHA-256 (spec §4.B). This is explicitly
// not Argon2: the target device class has no memory budget for a
// memory-hard KDF, so the original design accepts iterated-hash strength in
// exchange for running on a 32KiB heap.
func DeriveIdentityWrapKey(password []byte, salt [16]byte, iterations uint32) [32]byte {
	combined := make([]byte, 0, len(password)+16)
	combined = append(combined, password...)
	combined = append(combined, salt[:]...)
	key := Hash(combined)

	var iterBuf [4]byte
	for i := uint32(0); i < iterations; i++ {
		combined = combined[:0]
		combined = append(combined, key[:]...)
		binary.LittleEndian.PutUint32(iterBuf[:], i)
		combined = append(combined, iterBuf[:]...)
		combined = append(combined, salt[:]...)
		key = Hash(combined)
	}
	zero(combined)
	return key
}
