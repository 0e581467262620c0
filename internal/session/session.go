// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package session defines the encrypted transport session consumed by
// the buffer layer, and a concrete record-layer implementation of it.
// A session moves opaque payload bytes; by design nothing in this
// package can name, log, or record the remote endpoint.
package session

import "errors"

// Would-block errors name the I/O direction that must become ready
// before the operation can make progress. The direction does not always
// match the operation: record framing can require moving wire bytes the
// opposite way first, so a read may block on writability and vice
// versa. The caller re-arms readiness for the named direction and
// retries; this package never retries internally.
var (
	// ErrWouldBlockRead means the operation needs the underlying
	// transport to become readable.
	ErrWouldBlockRead = errors.New("session: would block until readable")
	// ErrWouldBlockWrite means the operation needs the underlying
	// transport to become writable.
	ErrWouldBlockWrite = errors.New("session: would block until writable")
	// ErrClosed means the session has been closed by the peer.
	ErrClosed = errors.New("session: closed by peer")
)

// IsWouldBlock reports whether err is a would-block signal in either
// direction. Any other non-nil error from a session is fatal to the
// connection.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlockRead) || errors.Is(err, ErrWouldBlockWrite)
}

// Session is an established secure channel. Reads yield decrypted
// payload bytes and writes accept payload bytes, reporting how many
// were actually moved; short reads and writes are normal backpressure,
// not errors.
type Session interface {
	// Read fills p with decrypted bytes and returns how many were
	// written. Filling even one byte may require consuming and
	// decrypting an entire record from the wire.
	Read(p []byte) (int, error)

	// Write consumes bytes from p into encrypted records and returns
	// how many payload bytes the session accepted. A zero-length write
	// asks the session to flush a pending partial record, if any.
	Write(p []byte) (int, error)

	// ForcedWriteSize returns the payload size of a pending partial
	// record, or zero. While it is non-zero the next write must offer
	// at least that many bytes, and they must be the same bytes as
	// before: the session has sealed but not yet delivered them, and
	// the caller has not yet been told they were accepted.
	ForcedWriteSize() int
}
