// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds key material — the master signing key, a derived agent
// key in transit, the device sealing identity — in memory the Go
// runtime cannot observe: an anonymous mmap region outside the heap,
// mlock'd so it never reaches swap, marked MADV_DONTDUMP so it never
// reaches a core dump, and zeroed before the mapping is released.
//
// Because the region is invisible to the garbage collector it is never
// copied or relocated, which is what makes the zeroing on Close
// meaningful: there is exactly one copy of the bytes, and Close
// destroys it. A Buffer must not be copied by value; reads after Close
// panic, since a silently-empty key is worse than a crash.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	closed bool
}

// New returns a zero-filled Buffer of exactly size bytes, ready for the
// caller to fill through Bytes. The caller owns the Buffer and must
// Close it once the key material inside is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: key buffer size must be positive, got %d", size)
	}
	region, err := lockRegion(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{region: region}, nil
}

// NewFromBytes moves source into a locked Buffer: the bytes are copied
// into protected memory and source is zeroed in place, so after this
// call the only live copy of the key material is inside the Buffer.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: refusing to protect empty key material")
	}
	region, err := lockRegion(len(source))
	if err != nil {
		return nil, err
	}
	copy(region, source)
	Zero(source)
	return &Buffer{region: region}, nil
}

// lockRegion maps, locks, and dump-protects size bytes outside the Go
// heap, unwinding on any failure. mmap and mlock failures are hard
// errors; so is MADV_DONTDUMP, since a key that can leak into a core
// dump defeats the point of the buffer.
func lockRegion(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mapping key region: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: locking key region against swap: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: excluding key region from core dumps: %w", err)
	}
	return region, nil
}

// Bytes returns the key material. The slice aliases the locked region
// directly — do not retain it past the Buffer's lifetime, and prefer
// passing it straight into the consuming call (signing.DeriveAddress,
// an HMAC) over parking it in a variable. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: key buffer read after Close")
	}
	return b.region
}

// String returns the key material as a string. Go strings are immutable
// heap values, so this makes a copy the Buffer cannot scrub — use it
// only where an API demands a string (the age identity parser) and
// never for raw key bytes. Panics after Close.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: key buffer read after Close")
	}
	return string(b.region)
}

// Len returns the size of the key material in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region)
}

// Close zeroes the key material, unlocks the region, and unmaps it.
// Idempotent; after Close every read panics.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.region)

	// The zeroing above is the part that matters; a failed munlock or
	// munmap leaks a mapping of zeroes, which process exit reclaims.
	var firstErr error
	if err := unix.Munlock(b.region); err != nil {
		firstErr = fmt.Errorf("secret: unlocking key region: %w", err)
	}
	if err := unix.Munmap(b.region); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: unmapping key region: %w", err)
	}
	b.region = nil
	return firstErr
}

// Zero scrubs a caller-owned slice in place. Used on every intermediate
// copy of key material — file contents, hex-decode output, encoding
// buffers — once the bytes have been handed to a Buffer or a consuming
// call.
func Zero(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
