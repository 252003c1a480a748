// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for master keys, agent keys,
// and other sensitive material handled by lib/signing, lib/agentkey, and
// lib/secretstore.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the memory
// is zeroed, unlocked, and unmapped. Because the memory lives outside the Go
// heap, the garbage collector cannot copy or relocate it, so secret material
// does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads from a file path or stdin ("-")
//   - [ReadHexFromPath] -- reads a hex-encoded key file, returns raw bytes
//
// Access via [Buffer.Bytes] (slice into the mmap region) or [Buffer.String]
// (heap copy for API boundaries that require a string). After Close, any
// access panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix. No internal dependencies.
package secret
