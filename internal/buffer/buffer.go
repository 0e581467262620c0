// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package buffer implements the chunked byte buffers that sit between a
// connection's encrypted transport session and the protocol engine
// above it. Each connection owns one inbound and one outbound Buffer;
// bytes enter through session fills or protocol appends and leave
// through session flushes or protocol drains, with every length
// accounted for exactly once.
package buffer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// ErrInternalFault marks a violated calling contract or accounting
// invariant: a drain beyond the buffered length, or a length that would
// overflow the maximum representable size. It is distinct from session
// errors; a connection observing it is faulty and must be torn down,
// never retried, since silently truncating would corrupt the byte
// stream.
var ErrInternalFault = errors.New("buffer: internal fault")

// maxBuffered is the largest total length a buffer may reach. Length
// arguments are attacker-influenced, so every growth path checks
// against it before any I/O or copying happens.
const maxBuffered = math.MaxInt

// Buffer is one directional byte stream for a connection, stored as an
// ordered list of chunks. The head chunk holds the oldest undrained
// bytes and is the only chunk ever partially drained; the tail is the
// only chunk with spare capacity. A Buffer is exclusively owned by one
// connection and must only be accessed from its event loop; it does no
// locking of its own.
type Buffer struct {
	logger *slog.Logger
	head   *chunk
	tail   *chunk
	length int
}

// New returns an empty buffer. The logger receives only defensive
// diagnostics and byte counts, never payload bytes or peer identity.
func New(logger *slog.Logger) *Buffer {
	return &Buffer{logger: logger}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return b.length
}

// Head returns the buffered bytes of the head chunk, for protocol
// parsing. The slice is only valid until the next mutation and must not
// be modified.
func (b *Buffer) Head() []byte {
	if b.head == nil {
		return nil
	}
	return b.head.data()
}

// Peek copies up to n bytes from the front of the stream into a new
// slice without draining them.
func (b *Buffer) Peek(n int) []byte {
	if n > b.length {
		n = b.length
	}
	out := make([]byte, 0, n)
	for c := b.head; c != nil && len(out) < n; c = c.next {
		remaining := n - len(out)
		d := c.data()
		if len(d) > remaining {
			d = d[:remaining]
		}
		out = append(out, d...)
	}
	return out
}

// Bytes copies out the entire buffered stream in order.
func (b *Buffer) Bytes() []byte {
	return b.Peek(b.length)
}

// growOrReuse returns the chunk the next append should write into: the
// tail, if it still has at least minReadLen of room, otherwise a fresh
// chunk sized for requested, appended as the new tail. Reusing the tail
// amortizes allocation so the chunk count tracks buffered volume rather
// than the number of reads.
func (b *Buffer) growOrReuse(requested int) *chunk {
	if b.tail != nil && b.tail.room() >= minReadLen {
		return b.tail
	}
	c := newChunk(preferredChunkSize(requested))
	if b.tail == nil {
		b.head = c
		b.tail = c
	} else {
		b.tail.next = c
		b.tail = c
	}
	return c
}

// Append copies p onto the tail of the stream. This is the enqueue path
// for the protocol layer above; session reads use FillFromSession
// instead so bytes land in chunks without an intermediate copy.
func (b *Buffer) Append(p []byte) error {
	if b.length >= maxBuffered-len(p) {
		return fmt.Errorf("%w: appending %d bytes would overflow %d buffered", ErrInternalFault, len(p), b.length)
	}
	for len(p) > 0 {
		c := b.growOrReuse(len(p))
		n := copy(c.writable(), p)
		c.length += n
		b.length += n
		p = p[n:]
	}
	return nil
}

// Drain removes the first n bytes of the stream, freeing chunks as they
// empty. A fully drained tail is kept and reset so the next append can
// reuse its capacity. Draining more than is buffered is a contract
// violation, not a runtime condition.
func (b *Buffer) Drain(n int) error {
	if n > b.length {
		return fmt.Errorf("%w: draining %d bytes exceeds %d buffered", ErrInternalFault, n, b.length)
	}
	b.length -= n
	for n > 0 {
		c := b.head
		if n < c.length {
			c.start += n
			c.length -= n
			break
		}
		n -= c.length
		if c == b.tail {
			c.reset()
			break
		}
		b.head = c.next
		c.next = nil
	}
	return nil
}
