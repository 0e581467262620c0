// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package buffer

import (
	"fmt"

	"github.com/noisysockets/relay/internal/session"
)

// FillFromSession reads up to atMost decrypted bytes from sess directly
// into the tail of the buffer, growing it as needed, and returns the
// number of bytes appended. On error, bytes appended before the error
// remain committed; partial progress is never rolled back.
//
// Reads from a record-layer session are not byte-granular: pulling even
// one byte can force the session to consume and decrypt a whole record
// from the wire, and a read may need the opposite I/O direction to
// become ready first (session.ErrWouldBlockWrite from a read). Both are
// surfaced unchanged so the event loop can re-arm the right direction.
// A short read means no more data is available right now and ends the
// call successfully.
func (b *Buffer) FillFromSession(sess session.Session, atMost int) (int, error) {
	// atMost is attacker-influenced (it derives from flow control over
	// remote-controlled traffic), so reject any request that could push
	// the total length to the maximum representable size before doing
	// any I/O.
	if b.length >= maxBuffered || atMost >= maxBuffered-b.length {
		return 0, fmt.Errorf("%w: filling %d bytes would overflow %d buffered", ErrInternalFault, atMost, b.length)
	}

	var total int
	for total < atMost {
		readLen := atMost - total
		c := b.growOrReuse(readLen)
		if room := c.room(); readLen > room {
			readLen = room
		}

		n, err := sess.Read(c.writable()[:readLen])
		if n > 0 {
			c.length += n
			b.length += n
			total += n
		}
		if err != nil {
			return total, err
		}
		if n < readLen {
			// Short read: block, peer-side pause, or end of stream.
			break
		}
	}

	return total, nil
}

// FlushToSession writes up to flushlen bytes from the head of the
// buffer to sess and returns the number of bytes the session accepted,
// draining the buffer by exactly that amount. It can legitimately write
// more than flushlen: once the session holds a pending partial record
// it must be allowed to finish it, so the session's forced write size
// overrides the requested length. budget is an external flow-control
// quota decremented by the bytes accepted, floored at zero; it is
// saturated defensively if passed in a state inconsistent with the
// buffer.
//
// A write is attempted even when flushlen is zero or the buffer is
// empty, because a zero-length write lets the session push out a
// pending partial record.
func (b *Buffer) FlushToSession(sess session.Session, flushlen int, budget *int) (int, error) {
	if budget == nil {
		return 0, fmt.Errorf("%w: flush without a budget", ErrInternalFault)
	}
	if *budget > b.length {
		b.logger.Warn("Flush budget exceeds buffered bytes, correcting",
			"budget", *budget,
			"buffered", b.length)
		*budget = b.length
	}
	if flushlen > *budget {
		b.logger.Warn("Flush length exceeds budget, correcting",
			"flushlen", flushlen,
			"budget", *budget)
		flushlen = *budget
	}

	var flushed int
	remaining := flushlen
	for {
		// A drained buffer can still hold its reset tail chunk, so
		// emptiness is judged by total length.
		var target int
		if b.length > 0 {
			target = b.head.length
			if remaining < target {
				target = remaining
			}
		}

		want := target
		if forced := sess.ForcedWriteSize(); forced > want {
			want = forced
		}

		var p []byte
		if b.length > 0 {
			if want > b.head.length {
				return flushed, fmt.Errorf("%w: forced write of %d bytes exceeds %d in head chunk", ErrInternalFault, want, b.head.length)
			}
			p = b.head.data()[:want]
		}

		n, err := sess.Write(p)
		if n > 0 {
			if err := b.Drain(n); err != nil {
				return flushed, err
			}
			if *budget > n {
				*budget -= n
			} else {
				*budget = 0
			}
			flushed += n
			remaining -= n

			b.logger.Debug("Flushed bytes to session",
				"flushed", n,
				"budget", *budget,
				"buffered", b.length)
		}
		if err != nil {
			return flushed, err
		}
		if n == 0 || remaining <= 0 {
			// Either no forward progress is possible right now, or the
			// request is satisfied.
			break
		}
	}

	return flushed, nil
}
