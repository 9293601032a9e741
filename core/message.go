/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the purpose of a ChatMessage (spec §4.E).
type MessageType uint8

const (
	MessageText MessageType = iota
	MessageAck
	MessageDelivered
	MessageRead
	MessageTyping
	MessagePresence
	MessageKeyExchange
	MessageKeyExchangeResponse
	MessageDiscovery
	MessageFileRequest
	MessageFileChunk
	MessageGroup
	MessageSystem
)

// MessageFlags is a bitset of ChatMessage modifiers.
type MessageFlags uint8

const (
	FlagNone        MessageFlags = 0
	FlagEncrypted   MessageFlags = 1 << 0
	FlagSigned      MessageFlags = 1 << 1
	FlagRequireAck  MessageFlags = 1 << 2
	FlagReply       MessageFlags = 1 << 3
	FlagForwarded   MessageFlags = 1 << 4
	FlagPadded      MessageFlags = 1 << 5
)

func (f MessageFlags) Has(flag MessageFlags) bool { return f&flag != 0 }
func (f *MessageFlags) Set(flag MessageFlags)      { *f |= flag }
func (f *MessageFlags) Clear(flag MessageFlags)    { *f &^= flag }

// ChatMessage is the application-level unit carried inside an Envelope
// (spec §4.E). Broadcast messages use an all-zero or all-0xFF To, per the
// constructors below.
type ChatMessage struct {
	From      [DeviceIDLen]byte
	To        [DeviceIDLen]byte
	Type      MessageType
	Flags     MessageFlags
	Sequence  uint64
	Timestamp uint64 // Unix milliseconds, caller-supplied
	Content   []byte
	Signature *[64]byte
	ReplyTo   *[32]byte
}

// NewTextMessage builds a MessageText ChatMessage with FlagRequireAck set.
func NewTextMessage(from, to [DeviceIDLen]byte, text string, sequence, timestamp uint64) (*ChatMessage, error) {
	if len(text) > MaxMessageSize {
		return nil, &Error{Kind: ErrResourceLimit, Op: "new_text_message"}
	}
	return &ChatMessage{
		From:      from,
		To:        to,
		Type:      MessageText,
		Flags:     FlagRequireAck,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   []byte(text),
	}, nil
}

// NewAckMessage builds a MessageAck carrying the hash of the message being
// acknowledged.
func NewAckMessage(from, to [DeviceIDLen]byte, originalHash [32]byte, sequence, timestamp uint64) *ChatMessage {
	return &ChatMessage{
		From:      from,
		To:        to,
		Type:      MessageAck,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   append([]byte{}, originalHash[:]...),
	}
}

// NewTypingMessage builds a MessageTyping indicator.
func NewTypingMessage(from, to [DeviceIDLen]byte, isTyping bool, sequence, timestamp uint64) *ChatMessage {
	v := byte(0)
	if isTyping {
		v = 1
	}
	return &ChatMessage{
		From:      from,
		To:        to,
		Type:      MessageTyping,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   []byte{v},
	}
}

// BroadcastID is the all-zero device ID used as To for presence broadcasts.
var BroadcastID [DeviceIDLen]byte

// DiscoveryBroadcastID is the all-0xFF device ID used as To for discovery
// announcements, distinguishing them from ordinary broadcasts.
var DiscoveryBroadcastID = func() [DeviceIDLen]byte {
	var id [DeviceIDLen]byte
	for i := range id {
		id[i] = 0xFF
	}
	return id
}()

// NewPresenceMessage builds a MessagePresence broadcast.
func NewPresenceMessage(from [DeviceIDLen]byte, status byte, sequence, timestamp uint64) *ChatMessage {
	return &ChatMessage{
		From:      from,
		To:        BroadcastID,
		Type:      MessagePresence,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   []byte{status},
	}
}

// NewDiscoveryMessage builds a MessageDiscovery broadcast carrying a
// serialized PublicIdentity.
func NewDiscoveryMessage(from [DeviceIDLen]byte, publicIdentity []byte, sequence, timestamp uint64) *ChatMessage {
	return &ChatMessage{
		From:      from,
		To:        DiscoveryBroadcastID,
		Type:      MessageDiscovery,
		Sequence:  sequence,
		Timestamp: timestamp,
		Content:   append([]byte{}, publicIdentity...),
	}
}

// Hash returns H(signing form), used both for ack references and reply_to
// linkage. The signing form omits the signature TLV but keeps reply_to, so
// a signature never covers itself.
func (m *ChatMessage) Hash() [32]byte {
	return Hash(m.toBytesForSigning())
}

// Sign signs the message's signing-form bytes and sets FlagSigned.
func (m *ChatMessage) Sign(id *Identity) {
	sig := id.Sign(m.toBytesForSigning())
	m.Signature = &sig
	m.Flags.Set(FlagSigned)
}

// Text returns Content as a string when Type is MessageText.
func (m *ChatMessage) Text() (string, bool) {
	if m.Type != MessageText {
		return "", false
	}
	return string(m.Content), true
}

func (m *ChatMessage) toBytesForSigning() []byte {
	out := make([]byte, 0, 4+1+DeviceIDLen*2+1+1+8+8+2+len(m.Content)+1+32)
	out = append(out, Magic[:]...)
	out = append(out, ProtocolVersion)
	out = append(out, m.From[:]...)
	out = append(out, m.To[:]...)
	out = append(out, byte(m.Type), byte(m.Flags))
	out = appendU64LE(out, m.Sequence)
	out = appendU64LE(out, m.Timestamp)
	out = appendU16LE(out, uint16(len(m.Content)))
	out = append(out, m.Content...)
	if m.ReplyTo != nil {
		out = append(out, 1)
		out = append(out, m.ReplyTo[:]...)
	} else {
		out = append(out, 0)
	}
	return out
}

// ToBytes serializes a complete ChatMessage for the wire (spec §4.E).
func (m *ChatMessage) ToBytes() []byte {
	out := m.toBytesForSigning()
	if m.Signature != nil {
		out = append(out, 1)
		out = append(out, m.Signature[:]...)
	} else {
		out = append(out, 0)
	}
	return out
}

const chatMessageMinLen = 4 + 1 + DeviceIDLen*2 + 1 + 1 + 8 + 8 + 2

// ChatMessageFromBytes parses a ChatMessage, validating the magic and
// rejecting a version greater than the version this build understands
// (spec §6: a future-versioned message is rejected rather than
// best-effort-parsed).
func ChatMessageFromBytes(b []byte) (*ChatMessage, error) {
	if len(b) < chatMessageMinLen {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
	}
	off := 0
	if !ConstantTimeEqual(b[off:off+4], Magic[:]) {
		return nil, wrapErr(ErrProtocolViolation, "parse_chat_message", fmt.Errorf("bad magic"))
	}
	off += 4

	version := b[off]
	off++
	if version > ProtocolVersion {
		return nil, wrapErr(ErrProtocolViolation, "parse_chat_message", fmt.Errorf("unsupported version %d", version))
	}

	m := &ChatMessage{}
	copy(m.From[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen
	copy(m.To[:], b[off:off+DeviceIDLen])
	off += DeviceIDLen

	m.Type = MessageType(b[off])
	off++
	m.Flags = MessageFlags(b[off])
	off++

	if off+8 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
	}
	m.Sequence = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	if off+8 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
	}
	m.Timestamp = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	if off+2 > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
	}
	contentLen := int(binary.LittleEndian.Uint16(b[off : off+2]))
	off += 2

	if contentLen > MaxMessageSize {
		return nil, &Error{Kind: ErrResourceLimit, Op: "parse_chat_message"}
	}
	if off+contentLen > len(b) {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
	}
	m.Content = append([]byte{}, b[off:off+contentLen]...)
	off += contentLen

	if off < len(b) && b[off] == 1 {
		off++
		if off+32 > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
		}
		var rt [32]byte
		copy(rt[:], b[off:off+32])
		m.ReplyTo = &rt
		off += 32
	} else if off < len(b) {
		off++
	}

	if off < len(b) && b[off] == 1 {
		off++
		if off+64 > len(b) {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "parse_chat_message"}
		}
		var sig [64]byte
		copy(sig[:], b[off:off+64])
		m.Signature = &sig
	}

	return m, nil
}

func appendU64LE(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendU16LE(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}
