/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"encoding/binary"
	"fmt"
)

// EnvelopeType tags how an Envelope's payload should be interpreted.
type EnvelopeType uint8

const (
	// EnvelopePlaintext carries an unencrypted ChatMessage; used only for
	// discovery and handshake framing, never for message content.
	EnvelopePlaintext EnvelopeType = iota
	// EnvelopeEncrypted carries a ChatMessage sealed under a key derived
	// from an X25519 exchange between a fresh sender ephemeral key and the
	// recipient's static key-agreement key (spec §4.C).
	EnvelopeEncrypted
	// EnvelopeMultiRecipient and EnvelopeAnonymous are reserved envelope
	// kinds not produced by this implementation; OpenEnvelope rejects them.
	EnvelopeMultiRecipient
	EnvelopeAnonymous
)

// Envelope is the outermost wire structure carrying a message between two
// devices (spec §3, §4.C, §6 wire layout).
type Envelope struct {
	Type         EnvelopeType
	SenderID     [DeviceIDLen]byte
	RecipientID  [DeviceIDLen]byte
	EphemeralPub *[32]byte
	Payload      []byte
	Sequence     uint64
	Timestamp    uint64
}

// SealPlaintext wraps message in an EnvelopePlaintext, used only for
// discovery/handshake framing (spec §4.C).
func SealPlaintext(message *ChatMessage) *Envelope {
	return &Envelope{
		Type:        EnvelopePlaintext,
		SenderID:    message.From,
		RecipientID: message.To,
		Payload:     message.ToBytes(),
		Sequence:    message.Sequence,
		Timestamp:   message.Timestamp,
	}
}

// OpenPlaintext extracts the ChatMessage from an EnvelopePlaintext.
func (e *Envelope) OpenPlaintext() (*ChatMessage, error) {
	if e.Type != EnvelopePlaintext {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_plaintext_envelope"}
	}
	return ChatMessageFromBytes(e.Payload)
}

// envelopeKeyMaterial derives the symmetric key used to seal/open an
// encrypted envelope's payload: H(shared ‖ ephemeral_pub ‖ recipient_pub).
// The sender's own long-term key is deliberately not part of this
// derivation — binding sender identity is the signed inner message's job,
// not the envelope's (spec §4.C).
func envelopeKeyMaterial(shared, ephemeralPub, recipientPub [32]byte) [32]byte {
	var material [96]byte
	copy(material[0:32], shared[:])
	copy(material[32:64], ephemeralPub[:])
	copy(material[64:96], recipientPub[:])
	key := Hash(material[:])
	zero(material[:])
	return key
}

// SealEnvelope encrypts message for recipientKexPub using a fresh ephemeral
// X25519 keypair for forward secrecy (spec §4.C). pad controls whether the
// plaintext is bucket-padded before sealing.
func SealEnvelope(message *ChatMessage, recipientKexPub [32]byte, pad bool) (*Envelope, error) {
	var ephSec [32]byte
	copy(ephSec[:], Random(32))
	ephPub := kexPublicFromSecret(ephSec)

	shared, err := dh(ephSec, recipientKexPub)
	zero(ephSec[:])
	if err != nil {
		return nil, err
	}

	key := envelopeKeyMaterial(shared, ephPub, recipientKexPub)
	zero(shared[:])

	plaintext := message.ToBytes()
	aad := message.From[:]

	var ciphertext []byte
	if pad {
		ciphertext, err = SealWithPadding(&key, plaintext, aad)
	} else {
		ciphertext, err = Seal(&key, plaintext, aad)
	}
	zero(key[:])
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Type:         EnvelopeEncrypted,
		SenderID:     message.From,
		RecipientID:  message.To,
		EphemeralPub: &ephPub,
		Payload:      ciphertext,
		Sequence:     message.Sequence,
		Timestamp:    message.Timestamp,
	}, nil
}

// OpenEnvelope decrypts an EnvelopeEncrypted using the recipient's static
// key-agreement secret, reversing SealEnvelope. padded must match how the
// envelope was sealed.
func OpenEnvelope(e *Envelope, recipientIdentity *Identity, padded bool) (*ChatMessage, error) {
	if e.Type != EnvelopeEncrypted {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_envelope"}
	}
	if e.EphemeralPub == nil {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "open_envelope"}
	}

	shared, err := recipientIdentity.KeyExchange(*e.EphemeralPub)
	if err != nil {
		return nil, err
	}

	recipientPub := recipientIdentity.ExportPublic().KexPub
	key := envelopeKeyMaterial(shared, *e.EphemeralPub, recipientPub)
	zero(shared[:])

	aad := e.SenderID[:]
	var plaintext []byte
	if padded {
		plaintext, err = OpenWithPadding(&key, e.Payload, aad)
	} else {
		plaintext, err = Open(&key, e.Payload, aad)
	}
	zero(key[:])
	if err != nil {
		return nil, err
	}

	return ChatMessageFromBytes(plaintext)
}

// ToBytes serializes an Envelope per the spec §6 wire layout:
// 1 type | 32 sender_id | 32 recipient_id | 1 eph_present | [32 eph_pk]
// | 8 seq LE | 8 ts LE | 2 payload_len LE | payload_len bytes.
func (e *Envelope) ToBytes() ([]byte, error) {
	if len(e.Payload) > 0xFFFF {
		return nil, &Error{Kind: ErrResourceLimit, Op: "marshal_envelope"}
	}
	out := make([]byte, 0, 1+DeviceIDLen*2+1+32+8+8+2+len(e.Payload))
	out = append(out, byte(e.Type))
	out = append(out, e.SenderID[:]...)
	out = append(out, e.RecipientID[:]...)
	if e.EphemeralPub != nil {
		out = append(out, 1)
		out = append(out, e.EphemeralPub[:]...)
	} else {
		out = append(out, 0)
	}
	out = appendU64LE(out, e.Sequence)
	out = appendU64LE(out, e.Timestamp)
	out = appendU16LE(out, uint16(len(e.Payload)))
	out = append(out, e.Payload...)
	return out, nil
}

const envelopeMinLen = 1 + DeviceIDLen*2 + 1 + 8 + 8 + 2

// EnvelopeFromBytes parses an Envelope from its wire form.
func EnvelopeFromBytes(b []byte) (*Envelope, error) {
	if len(b) < envelopeMinLen {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
	}
	off := 0
	e := &Envelope{Type: EnvelopeType(b[off])}
	off++

	copy(e.SenderID[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen
	copy(e.RecipientID[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen

	ephPresent := b[off]
	off++
	if ephPresent == 1 {
		if off+32 > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
		}
		var eph [32]byte
		copy(eph[:], b[off:off+32])
		e.EphemeralPub = &eph
		off += 32
	}

	if off+8 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
	}
	e.Sequence = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	if off+8 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
	}
	e.Timestamp = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	if off+2 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
	}
	payloadLen := int(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2

	if payloadLen > MaxMessageSize+512 {
		return nil, wrapErr(ErrResourceLimit, "parse_envelope", fmt.Errorf("payload_len %d exceeds cap", payloadLen))
	}
	if off+payloadLen > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_envelope"}
	}
	e.Payload = append([]byte{}, b[off:off+payloadLen]...)

	return e, nil
}
