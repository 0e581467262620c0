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
	"bytes"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// checkInvariants walks the chunk list and verifies the accounting the
// rest of the layer relies on: the cached total matches the chunk
// lengths, only the head is partially drained, and only the tail has
// spare capacity.
func checkInvariants(t *testing.T, b *Buffer) {
	t.Helper()

	var sum int
	for c := b.head; c != nil; c = c.next {
		require.GreaterOrEqual(t, c.length, 0)
		require.LessOrEqual(t, c.start+c.length, len(c.mem))

		if c != b.head {
			require.Zero(t, c.start, "only the head chunk may be partially drained")
		}
		if c != b.tail {
			require.Less(t, c.room(), minReadLen, "only the tail chunk may have usable capacity")
		}
		sum += c.length
	}
	require.Equal(t, sum, b.Len(), "cached total must match chunk lengths")
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestBufferAppendDrain(t *testing.T) {
	logger := slogt.New(t)

	t.Run("AppendThenDrainAll", func(t *testing.T) {
		b := New(logger)

		data := pattern(1000)
		require.NoError(t, b.Append(data))
		require.Equal(t, 1000, b.Len())
		require.Equal(t, data, b.Bytes())
		checkInvariants(t, b)

		require.NoError(t, b.Drain(1000))
		require.Zero(t, b.Len())
		require.Empty(t, b.Bytes())
		checkInvariants(t, b)
	})

	t.Run("PartialDrainAdvancesHead", func(t *testing.T) {
		b := New(logger)

		data := pattern(100)
		require.NoError(t, b.Append(data))

		require.NoError(t, b.Drain(37))
		require.Equal(t, 63, b.Len())
		require.Equal(t, data[37:], b.Bytes())
		checkInvariants(t, b)
	})

	t.Run("DrainAcrossChunkBoundaries", func(t *testing.T) {
		b := New(logger)

		// Large enough to span several max-size chunks.
		data := pattern(3 * maxChunkAlloc)
		require.NoError(t, b.Append(data))
		checkInvariants(t, b)

		drained := 0
		for _, n := range []int{1, maxChunkAlloc - 1, maxChunkAlloc + 100, 500} {
			require.NoError(t, b.Drain(n))
			drained += n
			require.Equal(t, data[drained:], b.Bytes())
			checkInvariants(t, b)
		}
	})

	t.Run("DrainedTailIsReused", func(t *testing.T) {
		b := New(logger)

		require.NoError(t, b.Append(pattern(64)))
		require.NoError(t, b.Drain(64))

		tail := b.tail
		require.NotNil(t, tail)

		require.NoError(t, b.Append(pattern(64)))
		require.Same(t, tail, b.tail, "a fully drained tail should be reset and reused")
		checkInvariants(t, b)
	})

	t.Run("DrainBeyondBufferedIsInternalFault", func(t *testing.T) {
		b := New(logger)

		require.NoError(t, b.Append(pattern(10)))

		err := b.Drain(11)
		require.ErrorIs(t, err, ErrInternalFault)
		require.Equal(t, 10, b.Len(), "a faulted drain must not truncate")
		checkInvariants(t, b)
	})
}

func TestBufferInterleavedAppendDrain(t *testing.T) {
	b := New(slogt.New(t))

	// Mirror the stream against a flat reference buffer through an
	// arbitrary interleaving of appends and drains.
	var ref bytes.Buffer
	src := pattern(10000)

	ops := []struct {
		append int
		drain  int
	}{
		{append: 3},
		{append: 300},
		{drain: 100},
		{append: 7},
		{drain: 210},
		{append: 5000},
		{drain: 4999},
		{append: 1},
		{drain: 2},
	}

	var off int
	for _, op := range ops {
		if op.append > 0 {
			require.NoError(t, b.Append(src[off:off+op.append]))
			ref.Write(src[off : off+op.append])
			off += op.append
		}
		if op.drain > 0 {
			ref.Next(op.drain)
			require.NoError(t, b.Drain(op.drain))
		}
		require.Equal(t, ref.Len(), b.Len())
		require.Equal(t, ref.Bytes(), b.Bytes())
		checkInvariants(t, b)
	}
}

func TestBufferHeadAndPeek(t *testing.T) {
	logger := slogt.New(t)

	t.Run("Empty", func(t *testing.T) {
		b := New(logger)
		require.Nil(t, b.Head())
		require.Empty(t, b.Peek(10))
	})

	t.Run("HeadIsSingleChunkView", func(t *testing.T) {
		b := New(logger)

		data := pattern(2 * maxChunkAlloc)
		require.NoError(t, b.Append(data))

		head := b.Head()
		require.NotEmpty(t, head)
		require.LessOrEqual(t, len(head), maxChunkAlloc)
		require.Equal(t, data[:len(head)], head)
	})

	t.Run("PeekSpansChunks", func(t *testing.T) {
		b := New(logger)

		data := pattern(2 * maxChunkAlloc)
		require.NoError(t, b.Append(data))

		require.Equal(t, data[:maxChunkAlloc+100], b.Peek(maxChunkAlloc+100))
		require.Equal(t, 2*maxChunkAlloc, b.Len(), "peek must not drain")
	})

	t.Run("PeekClampsToBuffered", func(t *testing.T) {
		b := New(logger)

		require.NoError(t, b.Append(pattern(10)))
		require.Equal(t, pattern(10), b.Peek(1000))
	})
}

func TestPreferredChunkSize(t *testing.T) {
	for _, tt := range []struct {
		requested int
		expected  int
	}{
		{requested: 0, expected: minChunkAlloc},
		{requested: 1, expected: minChunkAlloc},
		{requested: minChunkAlloc, expected: minChunkAlloc},
		{requested: minChunkAlloc + 1, expected: 2 * minChunkAlloc},
		{requested: 1000, expected: 1024},
		{requested: maxChunkAlloc, expected: maxChunkAlloc},
		{requested: 10 * maxChunkAlloc, expected: maxChunkAlloc},
	} {
		require.Equal(t, tt.expected, preferredChunkSize(tt.requested), "requested %d", tt.requested)
	}
}

func TestGrowOrReuse(t *testing.T) {
	logger := slogt.New(t)

	t.Run("ReusesTailWithRoom", func(t *testing.T) {
		b := New(logger)

		first := b.growOrReuse(100)
		require.Same(t, first, b.growOrReuse(100))
	})

	t.Run("AllocatesWhenTailNearlyFull", func(t *testing.T) {
		b := New(logger)

		c := b.growOrReuse(minChunkAlloc)
		// Leave less than minReadLen of room.
		c.length = len(c.mem) - minReadLen + 1
		b.length += c.length

		next := b.growOrReuse(100)
		require.NotSame(t, c, next)
		require.Same(t, next, b.tail)
		checkInvariants(t, b)
	})
}
