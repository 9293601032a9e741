/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

// Package core implements the BitChat cryptographic messaging core: identity,
// mutually-authenticated key agreement, sealed message envelopes, replay
// protection, and the wire framing that carries them.
//
// The core is single-threaded and cooperative (see spec §5): it never spawns
// a goroutine and never blocks. Callers drive it with Tick and the
// OnXxx/Enqueue entry points and must serialize their own access.
package core

import "github.com/bitchat-mesh/bitchat/ratelimiter"

// Protocol-wide constants (spec §6, normative defaults).
const (
	MaxMessageSize     = 4096
	MaxPeers           = 16
	MaxQueueDepth      = 64
	DeviceIDLen        = 32
	AnnounceIntervalMs = 5000
	DiscoveryTimeoutMs = 2000
	HandshakeTimeoutMs = 5000
	RateLimitAttempts  = 3
	RateLimitWindowMs  = 1000

	ProtocolVersion = 1
)

// Magic is the 4-byte prefix ("BCHT") carried by every on-wire structure
// that has one.
var Magic = [4]byte{0x42, 0x43, 0x48, 0x54}

// Config bundles the tunable limits a Core instance is constructed with.
// All fields default to the spec §6 constants; a zero-value Config is not
// valid and NewConfig should be used to obtain sane defaults.
type Config struct {
	MaxMessageSize     int
	MaxPeers           int
	MaxQueueDepth      int
	AnnounceIntervalMs uint64
	DiscoveryTimeoutMs uint64
	HandshakeTimeoutMs uint64
	RateLimitAttempts  int
	RateLimitWindowMs  uint64
}

// NewConfig returns the normative defaults from spec §6.
func NewConfig() Config {
	return Config{
		MaxMessageSize:     MaxMessageSize,
		MaxPeers:           MaxPeers,
		MaxQueueDepth:      MaxQueueDepth,
		AnnounceIntervalMs: AnnounceIntervalMs,
		DiscoveryTimeoutMs: DiscoveryTimeoutMs,
		HandshakeTimeoutMs: HandshakeTimeoutMs,
		RateLimitAttempts:  RateLimitAttempts,
		RateLimitWindowMs:  RateLimitWindowMs,
	}
}

// Transport is the external collaborator that moves already-framed byte
// blobs to and from the network. The core never imports net/* itself; it
// only ever sees bytes handed to OnReceiveFrame and returns bytes from
// DrainOutbound (spec §6).
type Transport interface {
	// FrameKind reports which wire framing (stream or connection-internal)
	// this link uses. It is fixed for the lifetime of the link.
	FrameKind() FrameKind
}

// Storage is the optional collaborator that persists an encrypted identity
// blob. Format is defined in spec §6; this package only ever treats it as
// an opaque byte string.
type Storage interface {
	LoadIdentity() ([]byte, error)
	SaveIdentity(blob []byte) error
}

// MessageHandler is called for every application message that survives
// decryption and replay checking, with the peer it arrived from.
type MessageHandler func(peerID [DeviceIDLen]byte, msg *ChatMessage)

// Core owns the process-wide peer table, rate-limiter table, local
// identity, and any in-progress handshakes. An application may construct
// multiple independent Core instances (e.g. in tests); none of them share
// state.
type Core struct {
	cfg       Config
	log       *Logger
	identity  *Identity
	frameKind FrameKind

	peers      *PeerTable
	limiter    *ratelimiter.Limiter
	discovery  *DiscoveryFilter
	handshakes map[[DeviceIDLen]byte]*Handshake

	// readBuffers holds the unconsumed tail of each peer's connection
	// stream, since a transport delivers bytes in arbitrary chunks that
	// don't necessarily align with frame boundaries.
	readBuffers map[[DeviceIDLen]byte][]byte

	onMessage MessageHandler

	outbound []OutboundFrame
}

// OutboundFrame is a framed byte blob ready for the transport, tagged with
// the peer it should be sent to (the zero device ID means "broadcast").
type OutboundFrame struct {
	PeerID [DeviceIDLen]byte
	Bytes  []byte
}

// NewCore constructs a Core around a local identity. frameKind fixes which
// wire framing this instance's transport collaborator uses (spec §4.J).
func NewCore(identity *Identity, cfg Config, frameKind FrameKind, log *Logger) *Core {
	if log == nil {
		log = NewDiscardLogger()
	}
	c := &Core{
		cfg:         cfg,
		log:         log,
		identity:    identity,
		frameKind:   frameKind,
		peers:       NewPeerTable(cfg.MaxPeers),
		limiter:     ratelimiter.NewLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindowMs),
		discovery:   NewDiscoveryFilter(cfg.DiscoveryTimeoutMs),
		handshakes:  make(map[[DeviceIDLen]byte]*Handshake),
		readBuffers: make(map[[DeviceIDLen]byte][]byte),
	}
	c.discovery.SetLocalDeviceID(identity.DeviceID())
	return c
}

// Identity returns the local identity this Core was constructed with.
func (c *Core) Identity() *Identity { return c.identity }

// Peers returns the peer table, for inspection/administration.
func (c *Core) Peers() *PeerTable { return c.peers }

// SetMessageHandler installs the callback invoked for every application
// message that passes decryption and replay checking. A nil handler
// silently drops delivered messages.
func (c *Core) SetMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

// EnqueueOutbound frames payload per this Core's wire framing and appends
// it to the outbound FIFO. It fails with ResourceLimit if the queue is
// already at MaxQueueDepth or payload exceeds MaxMessageSize.
func (c *Core) EnqueueOutbound(peerID [DeviceIDLen]byte, payload []byte) error {
	if len(c.outbound) >= c.cfg.MaxQueueDepth || len(payload) > c.cfg.MaxMessageSize {
		return &Error{Kind: ErrResourceLimit, Op: "enqueue_outbound"}
	}
	framed, err := AppendFrame(nil, c.frameKind, payload, c.cfg.MaxMessageSize)
	if err != nil {
		return err
	}
	c.outbound = append(c.outbound, OutboundFrame{PeerID: peerID, Bytes: framed})
	return nil
}

// DrainOutbound returns and clears all currently queued outbound frames, in
// FIFO order relative to EnqueueOutbound calls.
func (c *Core) DrainOutbound() []OutboundFrame {
	out := c.outbound
	c.outbound = nil
	return out
}

// OnTransportConnected records that the transport has established a link to
// a peer, without yet performing any handshake.
func (c *Core) OnTransportConnected(peerID [DeviceIDLen]byte, now uint64) {
	p := c.peers.GetOrCreate(peerID, now)
	if p.State == PeerDiscovered {
		p.State = PeerConnecting
	}
}

// OnTransportDisconnected tears down any in-progress handshake and marks the
// peer disconnected.
func (c *Core) OnTransportDisconnected(peerID [DeviceIDLen]byte) {
	if hs, ok := c.handshakes[peerID]; ok {
		hs.Teardown()
		delete(c.handshakes, peerID)
	}
	delete(c.readBuffers, peerID)
	if p, ok := c.peers.Get(peerID); ok {
		p.MarkDisconnected()
	}
}

// Tick performs one unit of bounded, non-blocking work: at most one timeout
// transition per in-progress handshake, one rate-limiter table sweep, and a
// sweep of disconnected peers. now is caller-supplied monotonic
// milliseconds.
func (c *Core) Tick(now uint64, maxDisconnectedAgeMs uint64) {
	for id, hs := range c.handshakes {
		if hs.CheckTimeout(now) {
			c.log.Verbosef("handshake with %x timed out", id)
			delete(c.handshakes, id)
			if p, ok := c.peers.Get(id); ok {
				p.MarkDisconnected()
			}
		}
	}
	c.limiter.Cleanup(now)
	c.peers.Cleanup(now, maxDisconnectedAgeMs)
}

// StartHandshake begins the initiator side of a handshake with peerID and
// queues the Hello frame for transmission.
func (c *Core) StartHandshake(peerID [DeviceIDLen]byte, now uint64) error {
	hs := NewInitiator(c.identity, c.cfg.HandshakeTimeoutMs)
	hello := hs.GenerateHello(now)
	if err := c.EnqueueOutbound(peerID, hello.ToBytes()); err != nil {
		return err
	}
	c.handshakes[peerID] = hs
	p := c.peers.GetOrCreate(peerID, now)
	p.State = PeerHandshaking
	return nil
}

// SendMessage seals msg for an already-handshaked peer and queues the
// resulting envelope for transmission.
func (c *Core) SendMessage(msg *ChatMessage, pad bool) error {
	hs, ok := c.handshakes[msg.To]
	if !ok || hs.Step() != HandshakeComplete || hs.PeerIdentity() == nil {
		return &Error{Kind: ErrProtocolViolation, Op: "send_message"}
	}
	env, err := SealEnvelope(msg, hs.PeerIdentity().KexPub, pad)
	if err != nil {
		return err
	}
	wire, err := env.ToBytes()
	if err != nil {
		return err
	}
	return c.EnqueueOutbound(msg.To, wire)
}

// OnReceiveFrame feeds newly arrived transport bytes for peerID through the
// wire framing and dispatches each complete frame. A declared frame length
// exceeding MaxMessageSize is reported as a protocol violation; the caller
// MUST tear the connection down in that case (spec §4.J).
func (c *Core) OnReceiveFrame(peerID [DeviceIDLen]byte, data []byte, now uint64) error {
	buf := append(c.readBuffers[peerID], data...)
	remainder, err := ExtractFrames(c.frameKind, buf, c.cfg.MaxMessageSize, func(payload []byte) {
		c.handlePayload(peerID, payload, now)
	})
	if err != nil {
		delete(c.readBuffers, peerID)
		return err
	}
	c.readBuffers[peerID] = remainder
	return nil
}

// handlePayload dispatches one already-length-delimited frame payload to
// the handshake or envelope path by inspecting its leading discriminator
// (spec §4.J dataflow). A HandshakeFrame always starts with the wire magic;
// an Envelope never does (its own type byte is one of 0-3, which can never
// collide with the magic's first byte).
func (c *Core) handlePayload(peerID [DeviceIDLen]byte, payload []byte, now uint64) {
	if len(payload) >= 4 && payload[0] == Magic[0] && payload[1] == Magic[1] && payload[2] == Magic[2] && payload[3] == Magic[3] {
		c.handleHandshakePayload(peerID, payload, now)
		return
	}
	c.handleEnvelopePayload(peerID, payload, now)
}

func (c *Core) handleHandshakePayload(peerID [DeviceIDLen]byte, payload []byte, now uint64) {
	frame, err := HandshakeFrameFromBytes(payload)
	if err != nil {
		c.log.Verbosef("drop malformed handshake frame from %x: %v", peerID, err)
		return
	}

	switch frame.Type {
	case HandshakeHello:
		if !c.limiter.Allow(peerID, now) {
			c.sendHandshakeFrame(peerID, ptr(newReject(c.identity, RejectRateLimited)))
			return
		}
		hs := NewResponder(c.identity, c.cfg.HandshakeTimeoutMs)
		resp, err := hs.ProcessHello(frame, now)
		if err != nil {
			c.log.Verbosef("reject hello from %x: %v", peerID, err)
			return
		}
		c.handshakes[peerID] = hs
		p := c.peers.GetOrCreate(peerID, now)
		p.State = PeerHandshaking
		c.sendHandshakeFrame(peerID, resp)

	case HandshakeResponse:
		hs, ok := c.handshakes[peerID]
		if !ok {
			c.log.Verbosef("response from %x with no in-progress handshake", peerID)
			return
		}
		confirm, err := hs.ProcessResponse(frame, now)
		if err != nil {
			c.log.Verbosef("handshake with %x failed at response: %v", peerID, err)
			delete(c.handshakes, peerID)
			return
		}
		c.sendHandshakeFrame(peerID, confirm)
		c.completeHandshake(peerID, hs, now)

	case HandshakeConfirm:
		hs, ok := c.handshakes[peerID]
		if !ok {
			c.log.Verbosef("confirm from %x with no in-progress handshake", peerID)
			return
		}
		if err := hs.ProcessConfirm(frame, now); err != nil {
			c.log.Verbosef("handshake with %x failed at confirm: %v", peerID, err)
			delete(c.handshakes, peerID)
			return
		}
		c.completeHandshake(peerID, hs, now)

	case HandshakeReject:
		c.log.Verbosef("handshake with %x rejected by peer", peerID)
		delete(c.handshakes, peerID)
		if p, ok := c.peers.Get(peerID); ok {
			p.MarkDisconnected()
		}

	default:
		c.log.Verbosef("unknown handshake frame type %d from %x", frame.Type, peerID)
	}
}

func (c *Core) completeHandshake(peerID [DeviceIDLen]byte, hs *Handshake, now uint64) {
	c.limiter.Reset(peerID)
	p := c.peers.GetOrCreate(peerID, now)
	p.PublicIdentity = hs.PeerIdentity()
	p.MarkConnected(now)
}

func (c *Core) sendHandshakeFrame(peerID [DeviceIDLen]byte, frame *HandshakeFrame) {
	if err := c.EnqueueOutbound(peerID, frame.ToBytes()); err != nil {
		c.log.Verbosef("drop outbound handshake frame to %x: %v", peerID, err)
	}
}

func (c *Core) handleEnvelopePayload(peerID [DeviceIDLen]byte, payload []byte, now uint64) {
	env, err := EnvelopeFromBytes(payload)
	if err != nil {
		c.log.Verbosef("drop malformed envelope from %x: %v", peerID, err)
		return
	}

	var msg *ChatMessage
	switch env.Type {
	case EnvelopePlaintext:
		msg, err = env.OpenPlaintext()
	case EnvelopeEncrypted:
		msg, err = OpenEnvelope(env, c.identity, true)
	default:
		c.log.Verbosef("reject reserved envelope type %d from %x", env.Type, peerID)
		return
	}
	if err != nil {
		c.log.Verbosef("drop unopenable envelope from %x: %v", peerID, err)
		return
	}
	c.deliver(peerID, msg, now)
}

func (c *Core) deliver(peerID [DeviceIDLen]byte, msg *ChatMessage, now uint64) {
	p, ok := c.peers.Get(peerID)
	if !ok {
		c.log.Verbosef("message from unknown peer %x", peerID)
		return
	}
	if !p.CheckSequence(msg.Sequence) {
		c.log.Verbosef("replay rejected from %x seq=%d", peerID, msg.Sequence)
		return
	}
	p.LastSeen = now
	p.LastSequence = msg.Sequence
	if c.onMessage != nil {
		c.onMessage(peerID, msg)
	}
}

// BuildAnnouncement constructs an outbound Announcement naming this Core's
// identity. kind selects the discovery purpose (spec §3); Response and
// Announce carry the local public identity, Query and Goodbye never do.
func (c *Core) BuildAnnouncement(kind AnnouncementKind, messagePort uint16, name string, now uint64) *Announcement {
	a := &Announcement{
		Kind:        kind,
		DeviceID:    c.identity.DeviceID(),
		MessagePort: messagePort,
		TimestampMs: now,
		Name:        name,
	}
	copy(a.Nonce[:], Random(8))
	if kind == AnnounceResponse || kind == AnnounceAnnounce {
		pub := c.identity.ExportPublic()
		a.PublicIdentity = &pub
	}
	return a
}

// OnAnnouncement parses and admits an inbound discovery frame, recording or
// refreshing the sender's peer record on acceptance (spec §4.I). It returns
// the parsed announcement and whether it was admitted.
func (c *Core) OnAnnouncement(data []byte, now uint64) (*Announcement, bool) {
	a, err := AnnouncementFromBytes(data)
	if err != nil {
		c.log.Verbosef("drop malformed announcement: %v", err)
		return nil, false
	}
	if !c.discovery.Admit(a, now) {
		return a, false
	}

	p := c.peers.GetOrCreate(a.DeviceID, now)
	if a.Name != "" {
		p.Name = a.Name
	}
	if a.PublicIdentity != nil {
		p.PublicIdentity = a.PublicIdentity
	}
	return a, true
}

func ptr(f HandshakeFrame) *HandshakeFrame { return &f }
