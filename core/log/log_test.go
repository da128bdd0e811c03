// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestBackendFile(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "relay.log")
	b, err := New(f, "info", false)
	require.NoError(err)

	l := b.GetLogger("test")
	l.Infof("hello %d", 1)
	l.Debugf("not shown")
	b.GetGoLogger("http", "WARNING").Println("from go logger")

	require.NoError(os.Rename(f, f+".1"))
	require.NoError(b.Rotate())
	l.Notice("after rotate")

	old, err := os.ReadFile(f + ".1")
	require.NoError(err)
	require.Contains(string(old), "INFO test: hello 1")
	require.Contains(string(old), "WARN http: from go logger")
	require.NotContains(string(old), "not shown")

	cur, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(cur), "after rotate")
}

func TestLevelFromString(t *testing.T) {
	require := require.New(t)

	for _, l := range Levels {
		_, err := LevelFromString(l)
		require.NoError(err)
	}
	lvl, err := LevelFromString("debug")
	require.NoError(err)
	require.Equal(logging.DEBUG, lvl)

	_, err = LevelFromString("LOUD")
	require.Error(err)

	_, err = New("", "LOUD", false)
	require.Error(err)

	b, err := New("", "ERROR", true)
	require.NoError(err)
	b.GetLogger("quiet").Error("discarded")
}
