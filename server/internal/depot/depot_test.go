// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package depot

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/server/config"
	"github.com/katzenpost/crowdlog/server/internal/glue"
)

type mockGlue struct {
	cfg        *config.Config
	logBackend *log.Backend
}

func (g *mockGlue) Config() *config.Config { return g.cfg }
func (g *mockGlue) LogBackend() *log.Backend { return g.logBackend }
func (g *mockGlue) Buffer() glue.Buffer { return nil }
func (g *mockGlue) Router() glue.Router { return nil }
func (g *mockGlue) Scheduler() glue.Scheduler { return nil }
func (g *mockGlue) Depot() glue.Depot { return nil }

func newMockGlue(t *testing.T, disableDedup bool) *mockGlue {
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Relay]
Identifier = "origin"
DataDir = %q
IsOrigin = true
Journal = "memory"

[Sink]
DedupFilterBits = 16
DisableDedup = %v
`, t.TempDir(), disableDedup)))
	require.NoError(t, err)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return &mockGlue{cfg: cfg, logBackend: logBackend}
}

type mockWriter struct {
	fail   bool
	lines  []string
	closed bool
}

func (w *mockWriter) Write(lines []string) error {
	if w.fail {
		return errors.New("disk full")
	}
	w.lines = append(w.lines, lines...)
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func TestDedup(t *testing.T) {
	require := require.New(t)

	w := new(mockWriter)
	d, err := New(newMockGlue(t, false), w)
	require.NoError(err)

	n, err := d.Write([]string{"a", "b", "a", " ", "c "})
	require.NoError(err)
	require.Equal(3, n)
	require.Equal([]string{"a", "b", "c"}, w.lines)

	n, err = d.Write([]string{"b", "d"})
	require.NoError(err)
	require.Equal(1, n)
	require.Equal([]string{"a", "b", "c", "d"}, w.lines)

	n, err = d.Write([]string{"a", "c"})
	require.NoError(err)
	require.Zero(n)

	// A failed write does not mark its lines as seen.
	w.fail = true
	_, err = d.Write([]string{"e"})
	require.Error(err)
	w.fail = false
	n, err = d.Write([]string{"e"})
	require.NoError(err)
	require.Equal(1, n)

	d.Halt()
	require.True(w.closed)
	_, err = d.Write([]string{"f"})
	require.ErrorIs(err, errHalted)
	d.Halt()
}

func TestDedupIsExact(t *testing.T) {
	require := require.New(t)

	// 20000 lines is several times what a 2^16 bit filter holds.
	g := newMockGlue(t, false)
	w := new(mockWriter)
	d, err := New(g, w)
	require.NoError(err)

	const batches, perBatch = 200, 100
	written := 0
	for i := 0; i < batches; i++ {
		lines := make([]string, 0, perBatch)
		for j := 0; j < perBatch; j++ {
			lines = append(lines, fmt.Sprintf("ee-artifact-%d-%d", i, j))
		}
		n, err := d.Write(lines)
		require.NoError(err)
		written += n
	}
	require.Equal(batches*perBatch, written)
	require.Len(w.lines, batches*perBatch)

	n, err := d.Write([]string{"ee-artifact-0-0", "ee-artifact-199-99"})
	require.NoError(err)
	require.Zero(n)
	d.Halt()

	// The seen set survives a restart.
	w = new(mockWriter)
	d, err = New(g, w)
	require.NoError(err)
	n, err = d.Write([]string{"ee-artifact-7-7", "new"})
	require.NoError(err)
	require.Equal(1, n)
	require.Equal([]string{"new"}, w.lines)
	d.Halt()
}

func TestDedupDisabled(t *testing.T) {
	require := require.New(t)

	w := new(mockWriter)
	d, err := New(newMockGlue(t, true), w)
	require.NoError(err)

	for i := 0; i < 2; i++ {
		n, err := d.Write([]string{"a", "b"})
		require.NoError(err)
		require.Equal(2, n)
	}
	require.Equal([]string{"a", "b", "a", "b"}, w.lines)
}

func TestNoSink(t *testing.T) {
	require := require.New(t)

	g := newMockGlue(t, false)
	g.cfg.Sink = nil
	_, err := New(g, new(mockWriter))
	require.ErrorIs(err, errNoSink)
}
