/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

// bitchat-demo drives a complete handshake and message exchange between two
// in-process identities, narrating each step. It exercises exactly the same
// Core entry points a real transport would call: StartHandshake,
// OnReceiveFrame, DrainOutbound, SendMessage.
package main

import (
	"fmt"
	"log"

	"github.com/bitchat-mesh/bitchat/core"
)

func deliver(from, to *core.Core, fromID [32]byte, now uint64) {
	for _, f := range from.DrainOutbound() {
		if err := to.OnReceiveFrame(fromID, f.Bytes, now); err != nil {
			log.Fatalf("frame from %x rejected: %v", fromID, err)
		}
	}
}

func main() {
	fmt.Println("=== BitChat core demo: handshake + sealed message ===")

	aliceID := core.GenerateIdentity()
	bobID := core.GenerateIdentity()
	alice := core.NewCore(aliceID, core.NewConfig(), core.ConnFrame, nil)
	bob := core.NewCore(bobID, core.NewConfig(), core.ConnFrame, nil)

	fmt.Printf("\n[1] alice device_id: %x\n", aliceID.DeviceID())
	fmt.Printf("[1] bob   device_id: %x\n", bobID.DeviceID())

	now := uint64(1)
	bob.SetMessageHandler(func(peerID [32]byte, msg *core.ChatMessage) {
		text, _ := msg.Text()
		fmt.Printf("\n[5] bob delivered message from %x: %q\n", peerID, text)
	})

	if err := alice.StartHandshake(bobID.DeviceID(), now); err != nil {
		log.Fatalf("start handshake: %v", err)
	}
	fmt.Println("\n[2] alice -> bob: Hello")
	deliver(alice, bob, aliceID.DeviceID(), now)

	fmt.Println("[3] bob -> alice: Response")
	deliver(bob, alice, bobID.DeviceID(), now)

	fmt.Println("[4] alice -> bob: Confirm")
	deliver(alice, bob, aliceID.DeviceID(), now)

	p, ok := alice.Peers().Get(bobID.DeviceID())
	if !ok || p.State != core.PeerConnected {
		log.Fatal("handshake did not complete")
	}
	fmt.Println("\nhandshake complete on both sides")

	msg, err := core.NewTextMessage(aliceID.DeviceID(), bobID.DeviceID(), "hello from the demo", 1, now)
	if err != nil {
		log.Fatalf("new message: %v", err)
	}
	if err := alice.SendMessage(msg, true); err != nil {
		log.Fatalf("send message: %v", err)
	}
	deliver(alice, bob, aliceID.DeviceID(), now)

	fmt.Println("\n=== Demo finished ===")
}
