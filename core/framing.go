/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package core

import "encoding/binary"

// FrameKind selects which length-prefixed framing a link uses (spec §4.J).
// It is fixed for the lifetime of a link and supplied once at construction.
type FrameKind int

const (
	// StreamFrame is a 4-byte big-endian length prefix, used over TCP.
	StreamFrame FrameKind = iota + 1
	// ConnFrame is a 2-byte big-endian length prefix, used for
	// message-in-session transport inside an already-established socket,
	// where the upper bound fits in 16 bits.
	ConnFrame
)

// "|length(N bytes, big-endian)|payload(length bytes)|..." — the same
// length-prefix-then-payload shape the transport framing in this corpus
// always uses, just with a framing-kind-dependent prefix width.

// AppendFrame appends payload to dst, prefixed with its length encoded per
// kind. It returns an error if payload exceeds maxMessageSize or the
// prefix width's own range (65535 bytes for ConnFrame).
func AppendFrame(dst []byte, kind FrameKind, payload []byte, maxMessageSize int) ([]byte, error) {
	if len(payload) > maxMessageSize {
		return nil, &Error{Kind: ErrProtocolViolation, Op: "append_frame"}
	}
	switch kind {
	case StreamFrame:
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
		dst = append(dst, hdr[:]...)
	case ConnFrame:
		if len(payload) > 0xFFFF {
			return nil, &Error{Kind: ErrProtocolViolation, Op: "append_frame"}
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
		dst = append(dst, hdr[:]...)
	default:
		return nil, &Error{Kind: ErrProtocolViolation, Op: "append_frame"}
	}
	return append(dst, payload...), nil
}

// HeaderLen reports the length-prefix width for kind.
func (k FrameKind) HeaderLen() int {
	switch k {
	case StreamFrame:
		return 4
	case ConnFrame:
		return 2
	default:
		return 0
	}
}

// ParseFrameHeader reads the length prefix from the front of buf and
// returns the declared payload length and the prefix width consumed. It
// returns ok=false if buf doesn't yet hold a complete header (caller should
// wait for more bytes, not tear down).
func ParseFrameHeader(kind FrameKind, buf []byte) (length int, headerLen int, ok bool) {
	headerLen = kind.HeaderLen()
	if headerLen == 0 || len(buf) < headerLen {
		return 0, headerLen, false
	}
	switch kind {
	case StreamFrame:
		return int(binary.BigEndian.Uint32(buf[:4])), 4, true
	case ConnFrame:
		return int(binary.BigEndian.Uint16(buf[:2])), 2, true
	default:
		return 0, 0, false
	}
}

// ExtractFrames repeatedly parses complete frames out of the front of buf,
// calling onFrame for each one's payload, and returns the unconsumed
// remainder. A declared length exceeding maxMessageSize is a protocol
// violation the caller MUST treat as connection teardown (spec §4.J); this
// function reports that via err rather than silently dropping bytes.
func ExtractFrames(kind FrameKind, buf []byte, maxMessageSize int, onFrame func(payload []byte)) (remainder []byte, err error) {
	for {
		length, headerLen, ok := ParseFrameHeader(kind, buf)
		if !ok {
			return buf, nil
		}
		if length > maxMessageSize {
			return buf, &Error{Kind: ErrProtocolViolation, Op: "extract_frames"}
		}
		total := headerLen + length
		if len(buf) < total {
			return buf, nil
		}
		onFrame(buf[headerLen:total])
		buf = buf[total:]
	}
}
