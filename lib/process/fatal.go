// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the one pre-logger raw-I/O path a binary
// entrypoint needs: reporting an unrecoverable startup error to stderr
// before a structured logger exists to carry it.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors returned by run() before the logger is built.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
