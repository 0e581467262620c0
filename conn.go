// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package relay implements the connection buffer layer of a relay node
// in an anonymity-preserving overlay: chunked inbound/outbound byte
// buffers between an encrypted transport session and the protocol
// engine above. The layer moves the bytes it is told to move and
// reports exactly how many it moved; it makes no routing or
// congestion decisions and, by design, has no way to observe or log
// the remote peer's network identity.
package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/noisysockets/relay/config"
	"github.com/noisysockets/relay/internal/buffer"
	"github.com/noisysockets/relay/internal/session"
)

// ErrOutboundFull is returned by QueueOutbound when the outbound buffer
// has reached its configured bound. The caller should apply
// backpressure to the protocol layer rather than buffer more.
var ErrOutboundFull = errors.New("relay: outbound buffer full")

// Conn owns the inbound and outbound buffers of one relay connection.
// It is driven synchronously by a single readiness loop: HandleReadable
// when the session's transport becomes readable, HandleWritable when it
// becomes writable. No method blocks; would-block conditions surface as
// session errors so the loop can re-arm. Conn does no locking and must
// be confined to its loop's goroutine.
type Conn struct {
	logger   *slog.Logger
	conf     *config.Config
	sess     session.Session
	inbound  *buffer.Buffer
	outbound *buffer.Buffer

	// outFlushlen counts bytes enqueued but not yet flushed. It is the
	// budget handed to the flush path, which keeps it consistent with
	// the outbound buffer.
	outFlushlen int

	// writeWindow is the flow-control allowance granted by the policy
	// layer above; flushes never exceed it.
	writeWindow int
}

// NewConn wraps an established session in a buffered connection. A nil
// conf uses the defaults.
func NewConn(logger *slog.Logger, sess session.Session, conf *config.Config) (*Conn, error) {
	if conf == nil {
		conf = config.Defaults()
	} else if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Conn{
		logger:      logger,
		conf:        conf,
		sess:        sess,
		inbound:     buffer.New(logger),
		outbound:    buffer.New(logger),
		writeWindow: conf.InitialWriteBudget,
	}, nil
}

// HandleReadable pulls up to one read quantum of decrypted bytes from
// the session into the inbound buffer, returning how many arrived.
// Bytes that arrived before an error remain committed.
func (c *Conn) HandleReadable() (int, error) {
	n, err := c.inbound.FillFromSession(c.sess, c.conf.ReadQuantum)
	if n > 0 {
		c.logger.Debug("Filled inbound buffer",
			"read", n,
			"buffered", c.inbound.Len())
	}
	return n, err
}

// HandleWritable flushes queued outbound bytes to the session, bounded
// by the write quantum and the flow-control window, and returns how
// many bytes the session accepted. It should also be called when the
// session reports a forced write size even if nothing is queued, so a
// pending partial record can finish.
func (c *Conn) HandleWritable() (int, error) {
	flushlen := c.conf.WriteQuantum
	if c.writeWindow < flushlen {
		flushlen = c.writeWindow
	}
	if c.outFlushlen < flushlen {
		flushlen = c.outFlushlen
	}

	n, err := c.outbound.FlushToSession(c.sess, flushlen, &c.outFlushlen)
	if n > 0 {
		if c.writeWindow > n {
			c.writeWindow -= n
		} else {
			c.writeWindow = 0
		}
		c.logger.Debug("Flushed outbound buffer",
			"written", n,
			"buffered", c.outbound.Len(),
			"window", c.writeWindow)
	}
	return n, err
}

// QueueOutbound enqueues p for delivery. It never writes to the
// session itself; the bytes go out on subsequent HandleWritable calls.
func (c *Conn) QueueOutbound(p []byte) error {
	if c.outbound.Len() > c.conf.MaxBufferedBytes-len(p) {
		return ErrOutboundFull
	}
	if err := c.outbound.Append(p); err != nil {
		return err
	}
	c.outFlushlen += len(p)
	return nil
}

// GrantWriteBudget widens the flow-control window, typically in
// response to the protocol layer's flow cells.
func (c *Conn) GrantWriteBudget(n int) {
	c.writeWindow += n
}

// Inbound exposes the inbound buffer to the protocol parser above.
func (c *Conn) Inbound() *buffer.Buffer {
	return c.inbound
}

// BufferedOutbound returns the number of bytes queued but not yet
// accepted by the session.
func (c *Conn) BufferedOutbound() int {
	return c.outbound.Len()
}

// Close tears the connection down, closing the session if it supports
// it. Buffered bytes are discarded; there is no graceful flush here,
// that is the readiness loop's job before it decides to close.
func (c *Conn) Close() error {
	c.outFlushlen = 0
	if closer, ok := c.sess.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
	}
	return nil
}
