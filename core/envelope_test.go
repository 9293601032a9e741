/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "testing"

func TestPlaintextEnvelopeRoundTrip(t *testing.T) {
	var from, to [DeviceIDLen]byte
	from[0], to[0] = 1, 2
	msg, err := NewTextMessage(from, to, "Hello", 1, 1000)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	env := SealPlaintext(msg)
	bytes, err := env.ToBytes()
	if err != nil {
		t.Fatalf("to bytes: %v", err)
	}
	restored, err := EnvelopeFromBytes(bytes)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	out, err := restored.OpenPlaintext()
	if err != nil {
		t.Fatalf("open plaintext: %v", err)
	}
	text, _ := out.Text()
	if text != "Hello" {
		t.Fatalf("got text %q", text)
	}
}

func TestEncryptedEnvelopeRoundTrip(t *testing.T) {
	alice := GenerateIdentity()
	bob := GenerateIdentity()

	msg, err := NewTextMessage(alice.DeviceID(), bob.DeviceID(), "Secret message", 1, 1000)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	env, err := SealEnvelope(msg, bob.ExportPublic().KexPub, true)
	if err != nil {
		t.Fatalf("seal envelope: %v", err)
	}
	if env.Type != EnvelopeEncrypted {
		t.Fatal("expected encrypted envelope")
	}

	decrypted, err := OpenEnvelope(env, bob, true)
	if err != nil {
		t.Fatalf("open envelope: %v", err)
	}
	text, _ := decrypted.Text()
	if text != "Secret message" {
		t.Fatalf("got text %q", text)
	}
}

func TestEnvelopeWireRoundTrip(t *testing.T) {
	alice := GenerateIdentity()
	bob := GenerateIdentity()
	msg, _ := NewTextMessage(alice.DeviceID(), bob.DeviceID(), "hi", 7, 42)

	env, err := SealEnvelope(msg, bob.ExportPublic().KexPub, false)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	wire, err := env.ToBytes()
	if err != nil {
		t.Fatalf("to bytes: %v", err)
	}
	parsed, err := EnvelopeFromBytes(wire)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if parsed.SenderID != env.SenderID || parsed.Sequence != env.Sequence {
		t.Fatal("wire round trip mismatch")
	}

	decrypted, err := OpenEnvelope(parsed, bob, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	text, _ := decrypted.Text()
	if text != "hi" {
		t.Fatalf("got %q", text)
	}
}

func TestOpenEnvelopeWrongRecipientFails(t *testing.T) {
	alice := GenerateIdentity()
	bob := GenerateIdentity()
	mallory := GenerateIdentity()

	msg, _ := NewTextMessage(alice.DeviceID(), bob.DeviceID(), "for bob only", 1, 1000)
	env, err := SealEnvelope(msg, bob.ExportPublic().KexPub, true)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenEnvelope(env, mallory, true); err == nil {
		t.Fatal("expected open to fail for the wrong recipient")
	}
}
