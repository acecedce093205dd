// Package connid implements the connection-ID protocol described in spec
// §4.1–§4.2: a rotating pair of 16-byte keys and a siphash-based oracle that
// derives and verifies 64-bit connection cookies from a client endpoint.
//
// Grounded on the rotating-secret shape of
// _examples/chihaya-chihaya/frontend/udp/connection_id.go (there implemented
// as an HMAC-SHA256 timestamp token under one long-lived private key); this
// package instead follows spec §4.1's two-key snapshot model, matching
// original_source/receive_thread.cpp's key_rotate.
package connid

import (
	"crypto/rand"
	"sync/atomic"
	"time"
)

// Key is a 16-byte secret used to derive connection-ID digests.
type Key [16]byte

// keyPair is an immutable snapshot of the current and previous keys. A
// snapshot is always internally coherent: readers never observe a Previous
// that doesn't correspond to the Current that replaced it.
type keyPair struct {
	current  Key
	previous Key
}

// KeyRotator maintains a rotating (current, previous) key pair, replacing
// current with a fresh random key on a fixed cadence and demoting the old
// current to previous. Reads publish and load one atomic snapshot pointer,
// so a rotation is never observed half-applied.
type KeyRotator struct {
	snapshot atomic.Pointer[keyPair]
	interval time.Duration
	closing  chan struct{}
	done     chan struct{}
}

// NewKeyRotator creates a KeyRotator with a freshly randomized initial pair
// and starts its rotation goroutine at the given interval. The interval
// bounds the connection-ID validity window (spec §4.1, §9): it must exceed
// the worst-case round trip between a client's connect and its announce.
func NewKeyRotator(interval time.Duration) (*KeyRotator, error) {
	initial, err := randomKey()
	if err != nil {
		return nil, err
	}
	second, err := randomKey()
	if err != nil {
		return nil, err
	}

	kr := &KeyRotator{
		interval: interval,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	kr.snapshot.Store(&keyPair{current: initial, previous: second})

	go kr.run()

	return kr, nil
}

func randomKey() (Key, error) {
	var k Key
	_, err := rand.Read(k[:])
	return k, err
}

func (kr *KeyRotator) run() {
	defer close(kr.done)

	ticker := time.NewTicker(kr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-kr.closing:
			return
		case <-ticker.C:
			fresh, err := randomKey()
			if err != nil {
				// Keep the old pair rather than rotating into a zero key;
				// try again on the next tick.
				continue
			}
			prev := kr.snapshot.Load()
			kr.snapshot.Store(&keyPair{current: fresh, previous: prev.current})
		}
	}
}

// Current returns the current and previous keys as a coherent pair.
func (kr *KeyRotator) Current() (current, previous Key) {
	p := kr.snapshot.Load()
	return p.current, p.previous
}

// Stop halts the rotation goroutine and blocks until it has exited.
func (kr *KeyRotator) Stop() {
	close(kr.closing)
	<-kr.done
}
