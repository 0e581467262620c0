// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// MaxRecordPayload is the most payload bytes carried by a single
	// record.
	MaxRecordPayload = 16384

	recordHeaderSize = 2
	maxCiphertext    = MaxRecordPayload + chacha20poly1305.Overhead
)

// RecordSession is a Session over a byte-stream connection. Payload is
// sealed into chacha20poly1305 records framed by a two byte big-endian
// ciphertext length; nonces are per-direction counters and never travel
// on the wire.
//
// The connection is held as a plain io.ReadWriteCloser so the session
// cannot observe endpoint addresses even by accident. Timeouts from the
// underlying connection are translated to the direction's would-block
// error, which lets a deadline-driven event loop treat the session as
// non-blocking.
type RecordSession struct {
	conn io.ReadWriteCloser

	send    cipher.AEAD
	recv    cipher.AEAD
	sendSeq uint64
	recvSeq uint64

	// A record whose wire bytes were only partially accepted by the
	// connection. The payload it carries has not been reported as
	// consumed yet; ForcedWriteSize exposes its size so the caller
	// re-offers those bytes until the record is fully delivered.
	sendPending        []byte
	sendPendingPayload int

	// Wire bytes of the record currently being received, and decrypted
	// payload not yet handed to the caller.
	recvWire  []byte
	recvWant  int
	recvPlain []byte
	plain     []byte
}

// NewRecordSession wraps conn in a record layer. sendKey and recvKey
// are the directional record keys agreed during the handshake, which
// happens outside this package.
func NewRecordSession(conn io.ReadWriteCloser, sendKey, recvKey []byte) (*RecordSession, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create send cipher: %w", err)
	}

	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create receive cipher: %w", err)
	}

	return &RecordSession{
		conn:     conn,
		send:     sendAEAD,
		recv:     recvAEAD,
		recvWire: make([]byte, 0, recordHeaderSize+maxCiphertext),
		plain:    make([]byte, 0, MaxRecordPayload),
	}, nil
}

// ForcedWriteSize returns the payload size of the pending partial
// record, or zero.
func (s *RecordSession) ForcedWriteSize() int {
	return s.sendPendingPayload
}

// PendingReadSize returns the number of decrypted bytes already inside
// the session but not yet read. A readiness loop should keep reading
// while this is non-zero: the wire may look idle even though payload is
// available.
func (s *RecordSession) PendingReadSize() int {
	return len(s.recvPlain)
}

// Write seals p into records and writes them to the connection,
// returning how many payload bytes were accepted. A record's payload
// counts as accepted only once its wire bytes are fully delivered;
// until then the record is pending and the caller must re-offer the
// same payload bytes (see ForcedWriteSize). A zero-length write with
// nothing pending is a no-op flush request.
func (s *RecordSession) Write(p []byte) (int, error) {
	var consumed int

	if len(s.sendPending) > 0 {
		if s.sendPendingPayload > len(p) {
			return 0, fmt.Errorf("session: write of %d bytes is smaller than the pending record payload %d", len(p), s.sendPendingPayload)
		}
		if err := s.flushPending(); err != nil {
			return 0, err
		}
		consumed = s.sendPendingPayload
		s.sendPendingPayload = 0
	}

	for consumed < len(p) {
		n := len(p) - consumed
		if n > MaxRecordPayload {
			n = MaxRecordPayload
		}
		record := s.seal(p[consumed : consumed+n])

		wn, err := s.conn.Write(record)
		if wn < len(record) {
			s.sendPending = record[wn:]
			s.sendPendingPayload = n
			if err == nil {
				err = ErrWouldBlockWrite
			}
			return consumed, translateConnError(err, ErrWouldBlockWrite)
		}
		consumed += n
		if err != nil {
			return consumed, translateConnError(err, ErrWouldBlockWrite)
		}
	}

	return consumed, nil
}

// Read fills p with decrypted payload, receiving and opening the next
// record if none is buffered. It never returns bytes from more than one
// record per call.
func (s *RecordSession) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(s.recvPlain) == 0 {
		if err := s.readRecord(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.recvPlain)
	s.recvPlain = s.recvPlain[n:]
	return n, nil
}

// Close closes the underlying connection.
func (s *RecordSession) Close() error {
	return s.conn.Close()
}

func (s *RecordSession) seal(payload []byte) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], s.sendSeq)
	s.sendSeq++

	record := make([]byte, recordHeaderSize, recordHeaderSize+len(payload)+chacha20poly1305.Overhead)
	record = s.send.Seal(record, nonce[:], payload, nil)
	binary.BigEndian.PutUint16(record[:recordHeaderSize], uint16(len(record)-recordHeaderSize))
	return record
}

func (s *RecordSession) flushPending() error {
	for len(s.sendPending) > 0 {
		n, err := s.conn.Write(s.sendPending)
		s.sendPending = s.sendPending[n:]
		if err != nil {
			return translateConnError(err, ErrWouldBlockWrite)
		}
	}
	s.sendPending = nil
	return nil
}

// readRecord reads wire bytes until a whole record has arrived, then
// decrypts it into the plaintext buffer. Partial arrivals are kept
// across calls so a would-block in the middle of a record loses
// nothing.
func (s *RecordSession) readRecord() error {
	if s.recvWant == 0 {
		s.recvWant = recordHeaderSize
	}

	for {
		for len(s.recvWire) < s.recvWant {
			n, err := s.conn.Read(s.recvWire[len(s.recvWire):s.recvWant])
			s.recvWire = s.recvWire[:len(s.recvWire)+n]
			if err != nil {
				return translateConnError(err, ErrWouldBlockRead)
			}
			if n == 0 {
				return ErrWouldBlockRead
			}
		}

		if s.recvWant == recordHeaderSize {
			// The length field comes off the wire, so bound it before
			// believing it.
			recordLen := int(binary.BigEndian.Uint16(s.recvWire))
			if recordLen < chacha20poly1305.Overhead || recordLen > maxCiphertext {
				return fmt.Errorf("session: record length %d out of range", recordLen)
			}
			s.recvWant = recordHeaderSize + recordLen
			continue
		}

		var nonce [chacha20poly1305.NonceSize]byte
		binary.LittleEndian.PutUint64(nonce[:8], s.recvSeq)

		payload, err := s.recv.Open(s.plain[:0], nonce[:], s.recvWire[recordHeaderSize:s.recvWant], nil)
		if err != nil {
			return fmt.Errorf("session: failed to open record: %w", err)
		}
		s.recvSeq++
		s.recvWire = s.recvWire[:0]
		s.recvWant = 0
		s.recvPlain = payload
		return nil
	}
}

// translateConnError maps connection errors onto the session error
// taxonomy: closed pipes and EOF become ErrClosed, timeouts become the
// operation's would-block direction, and everything else stays fatal.
func translateConnError(err error, wouldBlock error) error {
	switch {
	case IsWouldBlock(err), errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return ErrClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wouldBlock
	}

	return fmt.Errorf("session: %w", err)
}
