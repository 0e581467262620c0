// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config holds the per-connection buffer and flow tuning for a
// relay node.
package config

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const APIVersion = "relay.nzzy.net/v1alpha1"

// Config is the buffer layer tuning for relay connections. All byte
// quantities are per connection, per direction.
type Config struct {
	// APIVersion identifies the schema of this config file.
	APIVersion string `yaml:"apiVersion"`
	// ReadQuantum is the most bytes pulled from a session on one
	// readiness event. If not specified, one full record's worth is
	// used.
	ReadQuantum int `yaml:"readQuantum,omitempty"`
	// WriteQuantum is the most bytes flushed to a session on one
	// readiness event (a pending partial record can still push a single
	// flush past this).
	WriteQuantum int `yaml:"writeQuantum,omitempty"`
	// InitialWriteBudget seeds a connection's flow-control window. The
	// policy layer tops it up with GrantWriteBudget as the protocol
	// opens more window.
	InitialWriteBudget int `yaml:"initialWriteBudget,omitempty"`
	// MaxBufferedBytes bounds the outbound queue; enqueues beyond it
	// fail so a slow peer cannot pin unbounded memory.
	MaxBufferedBytes int `yaml:"maxBufferedBytes,omitempty"`
}

const (
	DefaultReadQuantum        = 16384
	DefaultWriteQuantum       = 16384
	DefaultInitialWriteBudget = 65536
	DefaultMaxBufferedBytes   = 1 << 20
)

// Defaults returns a config populated with the default tuning.
func Defaults() *Config {
	return &Config{
		APIVersion:         APIVersion,
		ReadQuantum:        DefaultReadQuantum,
		WriteQuantum:       DefaultWriteQuantum,
		InitialWriteBudget: DefaultInitialWriteBudget,
		MaxBufferedBytes:   DefaultMaxBufferedBytes,
	}
}

// FromYAML reads the given reader and returns a defaulted, validated
// config object.
func FromYAML(r io.Reader) (*Config, error) {
	confBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from reader: %w", err)
	}

	conf := &Config{}
	if err := yaml.Unmarshal(confBytes, conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if conf.APIVersion != APIVersion {
		return nil, fmt.Errorf("unsupported api version: %s", conf.APIVersion)
	}

	conf.populateDefaults()

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return conf, nil
}

// ToYAML writes the given config object to the given writer.
func ToYAML(w io.Writer, conf *Config) error {
	conf.APIVersion = APIVersion

	if err := yaml.NewEncoder(w).Encode(conf); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return nil
}

// Validate checks the config for values the buffer layer cannot honor.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.ReadQuantum <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("readQuantum must be positive, got %d", c.ReadQuantum))
	}
	if c.WriteQuantum <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("writeQuantum must be positive, got %d", c.WriteQuantum))
	}
	if c.InitialWriteBudget < 0 {
		errs = multierror.Append(errs, fmt.Errorf("initialWriteBudget must not be negative, got %d", c.InitialWriteBudget))
	}
	if c.MaxBufferedBytes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("maxBufferedBytes must be positive, got %d", c.MaxBufferedBytes))
	}

	return errs.ErrorOrNil()
}

func (c *Config) populateDefaults() {
	if c.ReadQuantum == 0 {
		c.ReadQuantum = DefaultReadQuantum
	}
	if c.WriteQuantum == 0 {
		c.WriteQuantum = DefaultWriteQuantum
	}
	if c.InitialWriteBudget == 0 {
		c.InitialWriteBudget = DefaultInitialWriteBudget
	}
	if c.MaxBufferedBytes == 0 {
		c.MaxBufferedBytes = DefaultMaxBufferedBytes
	}
}
