/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "testing"

func TestChatMessageWireRoundTripPlain(t *testing.T) {
	var from, to [DeviceIDLen]byte
	from[0], to[0] = 1, 2
	msg, err := NewTextMessage(from, to, "hello", 7, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}

	wire := msg.ToBytes()
	parsed, err := ChatMessageFromBytes(wire)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if parsed.From != msg.From || parsed.To != msg.To || parsed.Sequence != msg.Sequence || parsed.Timestamp != msg.Timestamp {
		t.Fatal("round trip mismatch on fixed fields")
	}
	text, ok := parsed.Text()
	if !ok || text != "hello" {
		t.Fatalf("got text %q, ok=%v", text, ok)
	}
	if parsed.ReplyTo != nil {
		t.Fatal("expected no reply_to")
	}
	if parsed.Signature != nil {
		t.Fatal("expected no signature")
	}
}

func TestChatMessageWireRoundTripReplyTo(t *testing.T) {
	var from, to [DeviceIDLen]byte
	from[0], to[0] = 1, 2
	msg, err := NewTextMessage(from, to, "reply", 8, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	var rt [32]byte
	rt[0] = 0xAB
	msg.ReplyTo = &rt

	parsed, err := ChatMessageFromBytes(msg.ToBytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if parsed.ReplyTo == nil || *parsed.ReplyTo != rt {
		t.Fatal("expected reply_to to round trip")
	}
	if parsed.Signature != nil {
		t.Fatal("expected no signature")
	}
}

func TestChatMessageWireRoundTripSigned(t *testing.T) {
	var from, to [DeviceIDLen]byte
	from[0], to[0] = 1, 2
	msg, err := NewTextMessage(from, to, "signed", 9, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	id := GenerateIdentity()
	msg.Sign(id)

	parsed, err := ChatMessageFromBytes(msg.ToBytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if parsed.Signature == nil || *parsed.Signature != *msg.Signature {
		t.Fatal("expected signature to round trip")
	}
	if !parsed.Flags.Has(FlagSigned) {
		t.Fatal("expected FlagSigned to round trip")
	}
}

func TestChatMessageWireRoundTripReplyToAndSigned(t *testing.T) {
	var from, to [DeviceIDLen]byte
	from[0], to[0] = 1, 2
	msg, err := NewTextMessage(from, to, "both", 10, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	var rt [32]byte
	rt[0] = 0xCD
	msg.ReplyTo = &rt
	id := GenerateIdentity()
	msg.Sign(id)

	parsed, err := ChatMessageFromBytes(msg.ToBytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if parsed.ReplyTo == nil || *parsed.ReplyTo != rt {
		t.Fatal("expected reply_to to round trip")
	}
	if parsed.Signature == nil || *parsed.Signature != *msg.Signature {
		t.Fatal("expected signature to round trip")
	}
}

func TestChatMessageFromBytesRejectsBadMagic(t *testing.T) {
	var from, to [DeviceIDLen]byte
	msg, err := NewTextMessage(from, to, "x", 1, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	wire := msg.ToBytes()
	wire[0] ^= 0xFF

	if _, err := ChatMessageFromBytes(wire); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}

func TestChatMessageFromBytesRejectsFutureVersion(t *testing.T) {
	var from, to [DeviceIDLen]byte
	msg, err := NewTextMessage(from, to, "x", 1, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	wire := msg.ToBytes()
	wire[4] = ProtocolVersion + 1

	if _, err := ChatMessageFromBytes(wire); err == nil {
		t.Fatal("expected future version to be rejected")
	}
}

func TestChatMessageFromBytesRejectsTruncated(t *testing.T) {
	var from, to [DeviceIDLen]byte
	msg, err := NewTextMessage(from, to, "hello", 1, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	wire := msg.ToBytes()

	if _, err := ChatMessageFromBytes(wire[:chatMessageMinLen-1]); err == nil {
		t.Fatal("expected truncated header to be rejected")
	}
}

func TestChatMessageFromBytesRejectsOversizedContentLen(t *testing.T) {
	var from, to [DeviceIDLen]byte
	msg, err := NewTextMessage(from, to, "hello", 1, 1000)
	if err != nil {
		t.Fatalf("new text message: %v", err)
	}
	wire := msg.ToBytes()

	// The 2-byte content length field sits right after the fixed header.
	off := chatMessageMinLen - 2
	oversized := uint16(MaxMessageSize + 1)
	wire[off] = byte(oversized)
	wire[off+1] = byte(oversized >> 8)

	if _, err := ChatMessageFromBytes(wire); err == nil {
		t.Fatal("expected content_len exceeding MaxMessageSize to be rejected")
	}
}
