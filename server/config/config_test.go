// config_test.go - Relay configuration tests.
// Copyright (C) 2025  The Crowdlog Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/core/failure"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "no Load() with nil config")
	require.EqualError(err, "No nil buffer as config file")

	basicConfig := `# A basic relay.
[Relay]
Identifier = "relay-1"
Address = "127.0.0.1:8081"
DataDir = "%s"
Origin = "https://BÜCHER.example/eartifacts"
Peers = [ "http://127.0.0.1:8082", "http://127.0.0.1:8083/" ]

[Logging]
Level = "debug"
`
	dir := t.TempDir()
	cfg, err := Load([]byte(fmt.Sprintf(basicConfig, dir)))
	require.NoError(err, "Load() with basic config")

	require.Equal("https://xn--bcher-kva.example/eartifacts", cfg.Relay.Origin)
	require.Len(cfg.Relay.Peers, 2)
	require.Equal(defaultMaxBundleSize, cfg.Relay.MaxBundleSize)
	require.Equal(defaultFullBufferSize, cfg.Relay.FullBufferSize)
	require.Equal(defaultFlushInterval, cfg.Relay.FlushInterval)
	require.Equal(defaultForwardProbability, *cfg.Relay.ForwardProbability)
	require.Equal(JournalBolt, cfg.Relay.Journal)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Nil(cfg.Sink)
	require.Equal(defaultBreakerThreshold, cfg.Debug.BreakerThreshold)
	require.Equal(defaultRetryMaxDelay, cfg.Debug.RetryMaxDelay)
	require.Equal("", cfg.Metrics.Address)
}

func TestOriginConfig(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	fn := filepath.Join(dir, "origin.toml")
	require.NoError(os.WriteFile(fn, []byte(fmt.Sprintf(`
[Relay]
Identifier = "origin"
DataDir = "%s"
IsOrigin = true
ForwardProbability = 0.0
Journal = "memory"

[Sink]
MaxRecordsPerFile = 5

[Metrics]
Address = "127.0.0.1:6543"
`, dir)), 0600))

	cfg, err := LoadFile(fn)
	require.NoError(err)
	require.True(cfg.Relay.IsOrigin)
	require.Equal(0.0, *cfg.Relay.ForwardProbability)
	require.Equal(filepath.Join(dir, defaultOutputDir, defaultOutputName), cfg.Sink.OutputBase)
	require.Equal(5, cfg.Sink.MaxRecordsPerFile)
	require.Equal(defaultDedupFilterBits, cfg.Sink.DedupFilterBits)
	require.Equal(defaultLogLevel, cfg.Logging.Level)

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	require.Error(err)
}

func TestIncompleteConfig(t *testing.T) {
	require := require.New(t)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"no relay", `[Logging]
Level = "DEBUG"`},
		{"no identifier", `[Relay]
DataDir = "/var/lib/crowdlog"
Origin = "http://origin:8080"`},
		{"relative datadir", `[Relay]
Identifier = "r"
DataDir = "var/lib/crowdlog"
Origin = "http://origin:8080"`},
		{"no origin", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"`},
		{"bad scheme", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "ftp://origin"`},
		{"duplicate peer", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
Peers = [ "http://a:1", "http://a:1" ]`},
		{"sink on relay", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
[Sink]
MaxRecordsPerFile = 3`},
		{"bad journal", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
Journal = "sqlite"`},
		{"bad level", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
[Logging]
Level = "LOUD"`},
		{"unknown key", `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
Lazy = true`},
	} {
		_, err := Load([]byte(tc.body))
		require.Error(err, tc.name)
		require.False(failure.IsCapacity(err), tc.name)
	}
}

func TestCapacityConfig(t *testing.T) {
	require := require.New(t)

	const base = `[Relay]
Identifier = "r"
DataDir = "/var/lib/crowdlog"
Origin = "http://origin"
`
	for _, extra := range []string{
		"MaxBundleSize = -1",
		"FullBufferSize = -5",
		"FlushInterval = -1000",
		"ForwardProbability = 1.5",
		"ForwardProbability = -0.1",
	} {
		_, err := Load([]byte(base + extra))
		require.Error(err, extra)
		require.True(failure.IsCapacity(err), extra)
	}

	_, err := Load([]byte(`[Relay]
Identifier = "o"
DataDir = "/var/lib/crowdlog"
IsOrigin = true
[Sink]
MaxRecordsPerFile = -1`))
	require.True(failure.IsCapacity(err))
}
