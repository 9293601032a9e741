/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

// bitchat-keygen generates a fresh BitChat device identity and, optionally,
// persists it to disk sealed under a password.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"

	"github.com/bitchat-mesh/bitchat/core"
)

func main() {
	out := flag.String("out", "", "path to write the sealed identity blob (omit to print only)")
	password := flag.String("password", "", "password to seal the identity under (required with -out)")
	flag.Parse()

	identity := core.GenerateIdentity()
	pub := identity.ExportPublic()
	wire := pub.ToBytes()

	fmt.Println("--- BitChat Identity ---")
	fmt.Printf("device_id:        %x\n", pub.DeviceID)
	fmt.Printf("public_identity:  %s\n", base64.StdEncoding.EncodeToString(wire[:]))
	fmt.Println("------------------------")

	if *out == "" {
		return
	}
	if *password == "" {
		log.Fatal("-password is required when -out is set")
	}

	blob, err := core.SealIdentityBlob(identity, []byte(*password), core.IdentityKDFIterations)
	if err != nil {
		log.Fatalf("seal identity: %v", err)
	}
	if err := core.NewFileStorage(*out).SaveIdentity(blob); err != nil {
		log.Fatalf("save identity: %v", err)
	}
	fmt.Printf("wrote sealed identity to %s\n", *out)
}
