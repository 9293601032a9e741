/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "fmt"

// HandshakeStep is the state of a three-step mutually authenticated
// handshake (spec §4.F).
type HandshakeStep int

const (
	HandshakeInitial HandshakeStep = iota
	HandshakeHelloSent
	HandshakeResponseSent
	HandshakeComplete
	HandshakeFailed
	HandshakeTimedOut
)

// HandshakeType tags the four handshake frame kinds.
type HandshakeType uint8

const (
	HandshakeHello HandshakeType = iota
	HandshakeResponse
	HandshakeConfirm
	HandshakeReject
)

// HandshakeFrame is the wire structure shared by all four handshake
// message kinds (spec §4.F, §6). Which optional fields are populated
// depends on msg_type: Hello/Response carry PublicIdentity, Response/
// Confirm carry an ephemeral key and a signature, Reject carries neither.
type HandshakeFrame struct {
	Type           HandshakeType
	Version        uint8
	SenderID       [DeviceIDLen]byte
	Nonce          [32]byte
	PublicIdentity *PublicIdentity
	EphemeralPub   *[32]byte
	Signature      *[64]byte
}

// RejectReason is embedded in a Reject frame's first nonce byte (spec
// §4.F): Reject carries no signature, so this is advisory only.
type RejectReason uint8

const (
	RejectUnspecified RejectReason = iota
	RejectVersionTooHigh
	RejectRateLimited
	RejectBadSignature
)

func newHello(id *Identity) HandshakeFrame {
	pub := id.ExportPublic()
	return HandshakeFrame{
		Type:           HandshakeHello,
		Version:        ProtocolVersion,
		SenderID:       id.DeviceID(),
		Nonce:          Random32(),
		PublicIdentity: &pub,
	}
}

// signingForm returns the frame's signing-form bytes (to_bytes minus
// signature) with peerNonce appended, matching spec §4.F's signature
// scope: "Hello/Response/Confirm minus the signature itself, concatenated
// with the peer's nonce."
func (f *HandshakeFrame) signingForm(peerNonce [32]byte) []byte {
	out := f.marshalFields(false)
	out = append(out, peerNonce[:]...)
	return out
}

func newResponse(id *Identity, peerNonce [32]byte, ephemeralPub [32]byte) HandshakeFrame {
	pub := id.ExportPublic()
	f := HandshakeFrame{
		Type:           HandshakeResponse,
		Version:        ProtocolVersion,
		SenderID:       id.DeviceID(),
		Nonce:          Random32(),
		PublicIdentity: &pub,
		EphemeralPub:   &ephemeralPub,
	}
	sig := id.Sign(f.signingForm(peerNonce))
	f.Signature = &sig
	return f
}

func newConfirm(id *Identity, peerNonce [32]byte, ephemeralPub [32]byte) HandshakeFrame {
	f := HandshakeFrame{
		Type:         HandshakeConfirm,
		Version:      ProtocolVersion,
		SenderID:     id.DeviceID(),
		Nonce:        Random32(),
		EphemeralPub: &ephemeralPub,
	}
	sig := id.Sign(f.signingForm(peerNonce))
	f.Signature = &sig
	return f
}

// newReject builds a Reject frame with reason embedded in nonce[0] (spec
// §4.F). Reject carries no signature and MUST NOT be treated by a receiver
// as authenticated evidence of identity.
func newReject(id *Identity, reason RejectReason) HandshakeFrame {
	nonce := Random32()
	nonce[0] = byte(reason)
	return HandshakeFrame{
		Type:     HandshakeReject,
		Version:  ProtocolVersion,
		SenderID: id.DeviceID(),
		Nonce:    nonce,
	}
}

// verify checks f's signature against verifyingKey, binding it to
// theirNonce (the local party's own nonce, from the perspective of the
// frame's sender).
func (f *HandshakeFrame) verify(verifyingKey PublicIdentity, theirNonce [32]byte) bool {
	if f.Signature == nil {
		return false
	}
	return verifyingKey.VerifySignature(f.signingForm(theirNonce), *f.Signature)
}

// marshalFields serializes the frame; includeSignature controls whether
// the trailing signature TLV is emitted, so the same code backs both
// ToBytes and the signing form.
func (f *HandshakeFrame) marshalFields(includeSignature bool) []byte {
	out := make([]byte, 0, 256)
	out = append(out, Magic[:]...)
	out = append(out, byte(f.Type), f.Version)
	out = append(out, f.SenderID[:]...)
	out = append(out, f.Nonce[:]...)

	if f.PublicIdentity != nil {
		out = append(out, 1)
		pid := f.PublicIdentity.ToBytes()
		out = append(out, pid[:]...)
	} else {
		out = append(out, 0)
	}

	if f.EphemeralPub != nil {
		out = append(out, 1)
		out = append(out, f.EphemeralPub[:]...)
	} else {
		out = append(out, 0)
	}

	if includeSignature {
		if f.Signature != nil {
			out = append(out, 1)
			out = append(out, f.Signature[:]...)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// ToBytes serializes a complete HandshakeFrame for the wire.
func (f *HandshakeFrame) ToBytes() []byte {
	return f.marshalFields(true)
}

const handshakeFrameMinLen = 4 + 1 + 1 + DeviceIDLen + 32

// HandshakeFrameFromBytes parses a HandshakeFrame.
func HandshakeFrameFromBytes(b []byte) (*HandshakeFrame, error) {
	if len(b) < handshakeFrameMinLen {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
	}
	off := 0
	if !ConstantTimeEqual(b[off:off+4], Magic[:]) {
		return nil, wrapErr(ErrProtocolViolation, "parse_handshake_frame", fmt.Errorf("bad magic"))
	}
	off += 4

	f := &HandshakeFrame{Type: HandshakeType(b[off])}
	off++
	f.Version = b[off]
	off++

	copy(f.SenderID[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen
	copy(f.Nonce[:], b[off:off+32])
	off += 32

	if off >= len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
	}
	if b[off] == 1 {
		off++
		if off+PublicIdentityLen > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
		}
		pid, err := PublicIdentityFromBytes(b[off : off+PublicIdentityLen])
		if err != nil {
			return nil, err
		}
		f.PublicIdentity = &pid
		off += PublicIdentityLen
	} else {
		off++
	}

	if off >= len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
	}
	if b[off] == 1 {
		off++
		if off+32 > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
		}
		var eph [32]byte
		copy(eph[:], b[off:off+32])
		f.EphemeralPub = &eph
		off += 32
	} else {
		off++
	}

	if off < len(b) && b[off] == 1 {
		off++
		if off+64 > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_handshake_frame"}
		}
		var sig [64]byte
		copy(sig[:], b[off:off+64])
		f.Signature = &sig
	}

	return f, nil
}

// SessionKey is the pair of symmetric keys a completed handshake produces:
// enc for payload encryption, mac for any out-of-band authentication that
// doesn't go through the AEAD (spec §4.F/G).
type SessionKey struct {
	Enc [32]byte
	Mac [32]byte
}

// Destroy zeroizes both subkeys.
func (k *SessionKey) Destroy() {
	zero(k.Enc[:])
	zero(k.Mac[:])
}

const sessionKeyContext = "bitchat-session"

func deriveSessionKey(dh1, dh2 [32]byte) SessionKey {
	var combinedIn [64]byte
	copy(combinedIn[0:32], dh1[:])
	copy(combinedIn[32:64], dh2[:])
	combined := Hash(combinedIn[:])
	zero(combinedIn[:])

	prkIn := append([]byte(sessionKeyContext), combined[:]...)
	prk := Hash(prkIn)
	zero(combined[:])

	encIn := append(append([]byte{}, prk[:]...), append([]byte(sessionKeyContext), 0x01)...)
	macIn := append(append([]byte{}, prk[:]...), append([]byte(sessionKeyContext), 0x02)...)
	sk := SessionKey{Enc: Hash(encIn), Mac: Hash(macIn)}
	zero(prk[:])
	return sk
}

// Handshake drives one side of a three-step mutually authenticated key
// agreement (spec §4.F). It owns its ephemeral secret and the resulting
// SessionKey, and it zeroizes both in Teardown.
type Handshake struct {
	step         HandshakeStep
	identity     *Identity
	isInitiator  bool
	ephSecret    [32]byte
	ephPublic    [32]byte
	ourNonce     [32]byte
	peerNonce    [32]byte
	peerIdentity *PublicIdentity
	peerEph      *[32]byte
	sessionKey   *SessionKey
	startMs      uint64
	timeoutMs    uint64
}

// NewInitiator constructs a Handshake in the Initial state for the
// initiating side.
func NewInitiator(id *Identity, timeoutMs uint64) *Handshake {
	return newHandshake(id, timeoutMs, true)
}

// NewResponder constructs a Handshake in the Initial state for the
// responding side.
func NewResponder(id *Identity, timeoutMs uint64) *Handshake {
	return newHandshake(id, timeoutMs, false)
}

func newHandshake(id *Identity, timeoutMs uint64, isInitiator bool) *Handshake {
	var ephSecret [32]byte
	copy(ephSecret[:], Random(32))
	return &Handshake{
		step:        HandshakeInitial,
		identity:    id,
		isInitiator: isInitiator,
		ephSecret:   ephSecret,
		ephPublic:   kexPublicFromSecret(ephSecret),
		ourNonce:    Random32(),
		timeoutMs:   timeoutMs,
	}
}

// Step reports the handshake's current state.
func (h *Handshake) Step() HandshakeStep { return h.step }

// PeerIdentity returns the authenticated peer identity, once known.
func (h *Handshake) PeerIdentity() *PublicIdentity { return h.peerIdentity }

// SessionKey returns the derived session key; only non-nil once Step() is
// HandshakeComplete (spec §4.G).
func (h *Handshake) SessionKey() *SessionKey {
	if h.step != HandshakeComplete {
		return nil
	}
	return h.sessionKey
}

// GenerateHello produces the initiator's Hello frame and records the start
// time for timeout purposes.
func (h *Handshake) GenerateHello(nowMs uint64) *HandshakeFrame {
	h.startMs = nowMs
	h.step = HandshakeHelloSent
	f := newHello(h.identity)
	f.Nonce = h.ourNonce
	return &f
}

// ProcessHello handles a received Hello (responder side) and returns the
// Response frame to send back.
func (h *Handshake) ProcessHello(msg *HandshakeFrame, nowMs uint64) (*HandshakeFrame, error) {
	if msg.Type != HandshakeHello {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "process_hello"}
	}
	if msg.Version > ProtocolVersion {
		return nil, wrapErr(ErrProtocolViolation, "process_hello", fmt.Errorf("version %d too high", msg.Version))
	}
	if msg.PublicIdentity == nil {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "process_hello"}
	}

	h.peerNonce = msg.Nonce
	h.peerIdentity = msg.PublicIdentity
	h.startMs = nowMs

	resp := newResponse(h.identity, msg.Nonce, h.ephPublic)
	resp.Nonce = h.ourNonce
	h.step = HandshakeResponseSent
	return &resp, nil
}

// CheckTimeout reports whether nowMs has exceeded this handshake's
// deadline, moving it to HandshakeTimedOut if so.
func (h *Handshake) CheckTimeout(nowMs uint64) bool {
	if h.step == HandshakeComplete || h.step == HandshakeFailed || h.step == HandshakeTimedOut {
		return h.step == HandshakeTimedOut
	}
	if nowMs-h.startMs > h.timeoutMs {
		h.step = HandshakeTimedOut
		h.Teardown()
		return true
	}
	return false
}

// ProcessResponse handles a received Response (initiator side), verifying
// its signature, deriving the session key, and returning the Confirm frame
// to send back.
func (h *Handshake) ProcessResponse(msg *HandshakeFrame, nowMs uint64) (*HandshakeFrame, error) {
	if msg.Type != HandshakeResponse {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "process_response"}
	}
	if h.CheckTimeout(nowMs) {
		return nil, &Error{Kind: ErrTimeout, Op: "process_response"}
	}
	if msg.PublicIdentity == nil || msg.EphemeralPub == nil {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "process_response"}
	}
	if !msg.verify(*msg.PublicIdentity, h.ourNonce) {
		return nil, &Error{Kind: ErrCryptoFailure, Op: "process_response"}
	}

	h.peerNonce = msg.Nonce
	h.peerIdentity = msg.PublicIdentity
	h.peerEph = msg.EphemeralPub

	if err := h.deriveSessionKey(); err != nil {
		return nil, err
	}

	confirm := newConfirm(h.identity, msg.Nonce, h.ephPublic)
	confirm.Nonce = h.ourNonce
	h.step = HandshakeComplete
	return &confirm, nil
}

// ProcessConfirm handles a received Confirm (responder side), verifying
// its signature and deriving the session key.
func (h *Handshake) ProcessConfirm(msg *HandshakeFrame, nowMs uint64) error {
	if msg.Type != HandshakeConfirm {
		return &Error{Kind: ErrProtocolViolation, Op: "process_confirm"}
	}
	if h.CheckTimeout(nowMs) {
		return &Error{Kind: ErrTimeout, Op: "process_confirm"}
	}
	if h.peerIdentity == nil {
		return &Error{Kind: ErrProtocolViolation, Op: "process_confirm"}
	}
	if msg.EphemeralPub == nil {
		return &Error{Kind: ErrProtocolViolation, Op: "process_confirm"}
	}
	if !msg.verify(*h.peerIdentity, h.ourNonce) {
		return &Error{Kind: ErrCryptoFailure, Op: "process_confirm"}
	}

	h.peerEph = msg.EphemeralPub
	if err := h.deriveSessionKey(); err != nil {
		return err
	}
	h.step = HandshakeComplete
	return nil
}

func (h *Handshake) deriveSessionKey() error {
	if h.peerEph == nil || h.peerIdentity == nil {
		return &Error{Kind: ErrCryptoFailure, Op: "derive_session_key"}
	}
	dh1, err := dh(h.ephSecret, *h.peerEph)
	if err != nil {
		return err
	}
	dh2, err := h.identity.KeyExchange(h.peerIdentity.KexPub)
	if err != nil {
		zero(dh1[:])
		return err
	}
	sk := deriveSessionKey(dh1, dh2)
	zero(dh1[:])
	zero(dh2[:])
	h.sessionKey = &sk
	return nil
}

// Teardown zeroizes this handshake's ephemeral secret and any derived
// session key, and moves it out of any in-progress state. It is safe to
// call more than once.
func (h *Handshake) Teardown() {
	zero(h.ephSecret[:])
	if h.sessionKey != nil {
		h.sessionKey.Destroy()
		h.sessionKey = nil
	}
	if h.step != HandshakeComplete && h.step != HandshakeTimedOut {
		h.step = HandshakeFailed
	}
}
