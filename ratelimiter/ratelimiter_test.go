/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2025 BitChat Contributors. All Rights Reserved.
 */

package ratelimiter

import "testing"

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := NewLimiter(3, 1000)
	var key [32]byte
	key[0] = 0xAA

	for i := 0; i < 3; i++ {
		if !l.Allow(key, 100) {
			t.Fatalf("attempt %d: expected allow", i)
		}
	}
	if l.Allow(key, 100) {
		t.Fatalf("4th attempt within window: expected deny")
	}
}

func TestLimiterSlidesWindow(t *testing.T) {
	l := NewLimiter(2, 1000)
	var key [32]byte

	if !l.Allow(key, 0) {
		t.Fatal("expected allow at t=0")
	}
	if !l.Allow(key, 500) {
		t.Fatal("expected allow at t=500")
	}
	if l.Allow(key, 999) {
		t.Fatal("expected deny at t=999, both prior attempts still in window")
	}
	// t=0 attempt has aged out of the 1000ms window by t=1001.
	if !l.Allow(key, 1001) {
		t.Fatal("expected allow at t=1001 after oldest attempt aged out")
	}
}

func TestLimiterIsolatesKeys(t *testing.T) {
	l := NewLimiter(1, 1000)
	var a, b [32]byte
	a[0], b[0] = 1, 2

	if !l.Allow(a, 0) {
		t.Fatal("expected allow for key a")
	}
	if !l.Allow(b, 0) {
		t.Fatal("expected allow for key b, independent of key a")
	}
	if l.Allow(a, 0) {
		t.Fatal("expected deny for repeat of key a")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewLimiter(1, 1000)
	var key [32]byte

	if !l.Allow(key, 0) {
		t.Fatal("expected allow")
	}
	if l.Allow(key, 0) {
		t.Fatal("expected deny before reset")
	}
	l.Reset(key)
	if !l.Allow(key, 0) {
		t.Fatal("expected allow after reset")
	}
}

func TestLimiterCleanupEvictsStaleKeys(t *testing.T) {
	l := NewLimiter(1, 1000)
	var key [32]byte

	l.Allow(key, 0)
	if _, ok := l.table[key]; !ok {
		t.Fatal("expected table entry after Allow")
	}
	l.Cleanup(5000)
	if _, ok := l.table[key]; ok {
		t.Fatal("expected entry evicted once its history aged out")
	}
}
