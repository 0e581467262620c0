// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package buffer

const (
	// minReadLen is the smallest amount of spare tail capacity worth
	// reading into; below this a fresh chunk is allocated instead.
	minReadLen = 8
	// minChunkAlloc and maxChunkAlloc bound the capacity of a single
	// chunk allocation.
	minChunkAlloc = 256
	maxChunkAlloc = 65536
)

// chunk is a fixed-capacity block of buffered bytes. The data occupies
// mem[start : start+length]; the region after it is writable. Chunks are
// drained from the front by advancing start, so only the head chunk of a
// buffer ever has start > 0. A chunk belongs to exactly one buffer for
// its whole life.
type chunk struct {
	mem    []byte
	start  int
	length int
	next   *chunk
}

func newChunk(capacity int) *chunk {
	return &chunk{mem: make([]byte, capacity)}
}

// data returns the buffered bytes.
func (c *chunk) data() []byte {
	return c.mem[c.start : c.start+c.length]
}

// writable returns the unused region after the buffered bytes.
func (c *chunk) writable() []byte {
	return c.mem[c.start+c.length:]
}

// room returns the remaining writable capacity.
func (c *chunk) room() int {
	return len(c.mem) - c.start - c.length
}

// reset makes a fully drained chunk writable from the start of its
// block again.
func (c *chunk) reset() {
	c.start = 0
	c.length = 0
}

// preferredChunkSize rounds the requested capacity up to a power of two,
// clamped to [minChunkAlloc, maxChunkAlloc]. Oversized requests are
// capped rather than honored; the fill loop clamps each read to the
// room of the chunk it actually got.
func preferredChunkSize(requested int) int {
	size := minChunkAlloc
	for size < requested && size < maxChunkAlloc {
		size <<= 1
	}
	return size
}
