/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// identityBlobMinLen is the smallest a valid persisted identity blob can
// be: 16-byte salt, 2-byte length prefix, and at least one ciphertext
// byte.
const identityBlobMinLen = 16 + 2 + 1

// SealIdentityBlob wraps identity's secrets under a key derived from
// password, producing the persisted format from spec §6:
// 16-byte salt ‖ 2-byte length LE ‖ ciphertext, where the sealed plaintext
// is the 64-byte sig_sk‖kex_sk pair (spec §4.B).
func SealIdentityBlob(identity *Identity, password []byte, iterations uint32) ([]byte, error) {
	var salt [16]byte
	copy(salt[:], Random(16))

	key := DeriveIdentityWrapKey(password, salt, iterations)
	secrets := identity.secretsForPersistence()
	ciphertext, err := Seal(&key, secrets[:], nil)
	zero(key[:])
	zero(secrets[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) > 0xFFFF {
		return nil, &Error{Kind: ErrResourceLimit, Op: "seal_identity_blob"}
	}

	out := make([]byte, 0, identityBlobMinLen+len(ciphertext))
	out = append(out, salt[:]...)
	out = appendU16LE(out, uint16(len(ciphertext)))
	out = append(out, ciphertext...)
	return out, nil
}

// OpenIdentityBlob reverses SealIdentityBlob, restoring an Identity from a
// persisted blob and the password it was sealed under.
func OpenIdentityBlob(blob []byte, password []byte, iterations uint32) (*Identity, error) {
	if len(blob) < identityBlobMinLen {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_identity_blob"}
	}
	var salt [16]byte
	copy(salt[:], blob[:16])

	ctLen := int(binary.LittleEndian.Uint16(blob[16:18]))
	if 18+ctLen != len(blob) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_identity_blob"}
	}

	key := DeriveIdentityWrapKey(password, salt, iterations)
	secrets, err := Open(&key, blob[18:18+ctLen], nil)
	zero(key[:])
	if err != nil {
		return nil, err
	}
	if len(secrets) != 64 {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_identity_blob"}
	}

	var sigSeed, kexSec [32]byte
	copy(sigSeed[:], secrets[:32])
	copy(kexSec[:], secrets[32:])
	zero(secrets)

	id := IdentityFromSecrets(sigSeed, kexSec)
	zero(sigSeed[:])
	zero(kexSec[:])
	return id, nil
}

// FileStorage persists an identity blob to a single file on disk, using a
// write-to-temp-then-rename pattern, so a crash mid-write can never leave a
// half-written identity file in place.
type FileStorage struct {
	path string
}

// NewFileStorage constructs a Storage backed by path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// LoadIdentity reads the raw blob at path. A missing file is reported as a
// plain *PathError, not a core *Error, so callers can distinguish
// "no identity yet" from a corrupt one.
func (s *FileStorage) LoadIdentity() ([]byte, error) {
	return os.ReadFile(s.path)
}

// SaveIdentity writes blob to path atomically: write to a sibling temp
// file, then rename over the target.
func (s *FileStorage) SaveIdentity(blob []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write identity blob: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to install identity blob: %w", err)
	}
	return nil
}
