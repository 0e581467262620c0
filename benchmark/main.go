// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/noisysockets/relay"
	"github.com/noisysockets/relay/config"
	"github.com/noisysockets/relay/internal/session"
	"github.com/rogpeppe/go-internal/par"
	"github.com/urfave/cli/v2"
)

type logLevelFlag slog.Level

func fromLogLevel(l slog.Level) *logLevelFlag {
	f := logLevelFlag(l)
	return &f
}

func (f *logLevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *logLevelFlag) String() string {
	return (*slog.Level)(f).String()
}

var _ session.Session = (*pumpSession)(nil)

// pumpSession is an in-memory session pair with no framing overhead,
// so the benchmark measures the buffer layer itself.
type pumpSession struct {
	peer  *pumpSession
	queue bytes.Buffer
}

func newPumpSessionPair() (*pumpSession, *pumpSession) {
	a := &pumpSession{}
	b := &pumpSession{}
	a.peer = b
	b.peer = a
	return a, b
}

func (s *pumpSession) Read(p []byte) (int, error) {
	if s.queue.Len() == 0 {
		return 0, nil
	}
	return s.queue.Read(p)
}

func (s *pumpSession) Write(p []byte) (int, error) {
	return s.peer.queue.Write(p)
}

func (s *pumpSession) ForcedWriteSize() int {
	return 0
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app := &cli.App{
		Name:  "relay-benchmark",
		Usage: "Benchmark the relay connection buffer layer",
		Commands: []*cli.Command{
			{
				Name:  "buffers",
				Usage: "Pump messages through buffered connection pairs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "connections",
						Aliases: []string{"n"},
						Usage:   "Number of connection pairs",
						Value:   10,
					},
					&cli.IntFlag{
						Name:    "messages",
						Aliases: []string{"m"},
						Usage:   "Messages per connection",
						Value:   10000,
					},
					&cli.IntFlag{
						Name:    "message-size",
						Aliases: []string{"s"},
						Usage:   "Message size in bytes",
						Value:   4096,
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Optional buffer tuning configuration file",
					},
					&cli.GenericFlag{
						Name:    "log-level",
						Aliases: []string{"l"},
						Usage:   "Set the log level",
						Value:   fromLogLevel(slog.LevelInfo),
					},
				},
				Before: func(c *cli.Context) error {
					logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
						Level: (*slog.Level)(c.Generic("log-level").(*logLevelFlag)),
					}))

					return nil
				},
				Action: func(c *cli.Context) error {
					conf := config.Defaults()
					if path := c.String("config"); path != "" {
						confFile, err := os.Open(path)
						if err != nil {
							return fmt.Errorf("failed to open config: %w", err)
						}

						conf, err = config.FromYAML(confFile)
						_ = confFile.Close()
						if err != nil {
							return fmt.Errorf("failed to read config: %w", err)
						}
					}

					nConnections := c.Int("connections")
					nMessages := c.Int("messages")
					messageSize := c.Int("message-size")

					var work par.Work
					for i := 0; i < nConnections; i++ {
						work.Add(i)
					}

					var errsMu sync.Mutex
					var errs *multierror.Error

					var messageDurationsMu sync.Mutex
					messageDurations := hdrhistogram.New(1, time.Second.Microseconds(), 3)

					bar := pb.StartNew(nConnections * nMessages)

					startTime := time.Now()
					work.Do(nConnections, func(item any) {
						err := runConnection(logger, conf, nMessages, messageSize, func(d time.Duration) {
							defer bar.Increment()

							messageDurationsMu.Lock()
							if err := messageDurations.RecordValue(d.Microseconds()); err != nil {
								logger.Error("Failed to record message duration", "error", err)
							}
							messageDurationsMu.Unlock()
						})
						if err != nil {
							errsMu.Lock()
							errs = multierror.Append(errs, fmt.Errorf("connection %d: %w", item.(int), err))
							errsMu.Unlock()
						}
					})
					totalDuration := time.Since(startTime)

					bar.Finish()

					if errs != nil {
						fmt.Println("Errors:")
						for _, err := range errs.Errors {
							fmt.Println(err)
						}
					}

					totalMessages := nConnections * nMessages
					totalBytes := int64(totalMessages) * int64(messageSize)

					fmt.Printf("Total messages: %d\n", totalMessages)
					fmt.Printf("Total bytes: %d\n", totalBytes)
					fmt.Printf("Total duration: %.2fs\n", totalDuration.Seconds())
					fmt.Printf("Throughput: %.2f MB/s\n", float64(totalBytes)/totalDuration.Seconds()/1e6)

					fmt.Println("Message durations:")
					fmt.Printf("  p50: %dus\n", messageDurations.ValueAtQuantile(50))
					fmt.Printf("  p90: %dus\n", messageDurations.ValueAtQuantile(90))
					fmt.Printf("  p99: %dus\n", messageDurations.ValueAtQuantile(99))
					fmt.Printf("  max: %dus\n", messageDurations.Max())

					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Failed to run app", "error", err)
		os.Exit(1)
	}
}

// runConnection pumps nMessages of messageSize bytes through one
// buffered connection pair, reporting each message's end-to-end
// duration.
func runConnection(logger *slog.Logger, conf *config.Config, nMessages, messageSize int, record func(time.Duration)) error {
	sessA, sessB := newPumpSessionPair()

	a, err := relay.NewConn(logger, sessA, conf)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}

	b, err := relay.NewConn(logger, sessB, conf)
	if err != nil {
		return fmt.Errorf("failed to create receiver: %w", err)
	}

	msg := bytes.Repeat([]byte{0xab}, messageSize)

	for i := 0; i < nMessages; i++ {
		messageStartTime := time.Now()

		if err := a.QueueOutbound(msg); err != nil {
			return fmt.Errorf("failed to enqueue message: %w", err)
		}

		// Flow control tops the window back up once per message, the
		// way a protocol layer would on receiving a flow cell.
		a.GrantWriteBudget(messageSize)

		for a.BufferedOutbound() > 0 {
			if _, err := a.HandleWritable(); err != nil {
				return fmt.Errorf("failed to flush: %w", err)
			}
		}

		for b.Inbound().Len() < messageSize {
			if _, err := b.HandleReadable(); err != nil {
				return fmt.Errorf("failed to fill: %w", err)
			}
		}

		if err := b.Inbound().Drain(messageSize); err != nil {
			return fmt.Errorf("failed to drain: %w", err)
		}

		record(time.Since(messageStartTime))
	}

	return nil
}
