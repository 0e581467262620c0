// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2025 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/noisysockets/relay/config"
	"github.com/stretchr/testify/require"
)

func TestFromYAML(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		conf, err := config.FromYAML(strings.NewReader(`
apiVersion: relay.nzzy.net/v1alpha1
readQuantum: 4096
writeQuantum: 8192
initialWriteBudget: 1024
maxBufferedBytes: 32768
`))
		require.NoError(t, err)

		require.Equal(t, 4096, conf.ReadQuantum)
		require.Equal(t, 8192, conf.WriteQuantum)
		require.Equal(t, 1024, conf.InitialWriteBudget)
		require.Equal(t, 32768, conf.MaxBufferedBytes)
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		conf, err := config.FromYAML(strings.NewReader(`
apiVersion: relay.nzzy.net/v1alpha1
readQuantum: 512
`))
		require.NoError(t, err)

		require.Equal(t, 512, conf.ReadQuantum)
		require.Equal(t, config.DefaultWriteQuantum, conf.WriteQuantum)
		require.Equal(t, config.DefaultInitialWriteBudget, conf.InitialWriteBudget)
		require.Equal(t, config.DefaultMaxBufferedBytes, conf.MaxBufferedBytes)
	})

	t.Run("UnsupportedAPIVersion", func(t *testing.T) {
		_, err := config.FromYAML(strings.NewReader(`
apiVersion: relay.nzzy.net/v9
`))
		require.ErrorContains(t, err, "unsupported api version")
	})

	t.Run("InvalidValues", func(t *testing.T) {
		_, err := config.FromYAML(strings.NewReader(`
apiVersion: relay.nzzy.net/v1alpha1
readQuantum: -1
maxBufferedBytes: -5
`))
		require.ErrorContains(t, err, "readQuantum")
		require.ErrorContains(t, err, "maxBufferedBytes")
	})
}

func TestToYAMLRoundTrip(t *testing.T) {
	conf := config.Defaults()
	conf.ReadQuantum = 2048

	var buf bytes.Buffer
	require.NoError(t, config.ToYAML(&buf, conf))

	got, err := config.FromYAML(&buf)
	require.NoError(t, err)
	require.Equal(t, conf, got)
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, config.Defaults().Validate())
}
