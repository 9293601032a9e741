/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = chacha20poly1305.Overhead
)

var paddingBuckets = []int{32, 64, 128, 256, 512, 1024, 2048, 4096}

// Seal encrypts plaintext under key with ChaCha20-Poly1305, binding aad as
// associated data, and returns nonce‖ciphertext‖tag. Unlike the bare helper
// this package is modeled on, aad IS authenticated here: every call site in
// this codebase that has a sender identity to bind passes it, so there is
// no bare call left that silently drops it.
func Seal(key *[32]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, wrapErr(ErrCryptoFailure, "seal", err)
	}
	nonce := Random(nonceSize)
	out := aead.Seal(nonce, nonce, plaintext, aad)
	return out, nil
}

// Open authenticates and decrypts ciphertext (nonce‖ciphertext‖tag) under
// key, checking aad. It returns CryptoFailure for any authentication or
// format failure, without distinguishing which check failed (spec §7: a
// crypto failure must never leak which check failed to a remote party).
func Open(key *[32]byte, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+tagSize {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "open"}
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, wrapErr(ErrCryptoFailure, "open", err)
	}
	nonce := ciphertext[:nonceSize]
	plaintext, err := aead.Open(nil, nonce, ciphertext[nonceSize:], aad)
	if err != nil {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "open"}
	}
	return plaintext, nil
}

// padMessage prepends a 2-byte little-endian length prefix to plaintext and
// pads the result up to the smallest bucket in paddingBuckets that fits, so
// ciphertext length alone does not reveal the exact plaintext length to a
// passive observer (spec §4.A).
func padMessage(plaintext []byte) ([]byte, error) {
	withHeader := len(plaintext) + 2
	target := -1
	for _, b := range paddingBuckets {
		if withHeader <= b {
			target = b
			break
		}
	}
	if target < 0 {
		return nil, &Error{Kind: ErrResourceLimit, Op: "pad_message"}
	}
	out := make([]byte, 2, target)
	binary.LittleEndian.PutUint16(out, uint16(len(plaintext)))
	out = append(out, plaintext...)
	out = append(out, Random(target-withHeader)...)
	return out, nil
}

// SealWithPadding is Seal over a length-prefixed, bucket-padded plaintext,
// so the ciphertext size only ever takes one of a handful of values
// regardless of the true message length.
func SealWithPadding(key *[32]byte, plaintext, aad []byte) ([]byte, error) {
	padded, err := padMessage(plaintext)
	if err != nil {
		return nil, err
	}
	return Seal(key, padded, aad)
}

// OpenWithPadding reverses SealWithPadding: it authenticates and decrypts,
// then strips the padding using the embedded length prefix. A zero-length
// original plaintext is a valid input and round-trips to an empty slice,
// not an error.
func OpenWithPadding(key *[32]byte, ciphertext, aad []byte) ([]byte, error) {
	padded, err := Open(key, ciphertext, aad)
	if err != nil {
		return nil, err
	}
	if len(padded) < 2 {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "open_with_padding"}
	}
	length := int(binary.LittleEndian.Uint16(padded[:2]))
	if length > len(padded)-2 {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "open_with_padding"}
	}
	return padded[2 : 2+length], nil
}
