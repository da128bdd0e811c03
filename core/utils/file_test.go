// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExists(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")

	ok, err := AnyExists(a, b)
	require.NoError(err)
	require.False(ok)

	require.NoError(os.WriteFile(b, nil, 0600))
	ok, err = Exists(b)
	require.NoError(err)
	require.True(ok)
	ok, err = AnyExists(a, b)
	require.NoError(err)
	require.True(ok)
}

func TestMkdirPrivate(t *testing.T) {
	require := require.New(t)

	d := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(MkdirPrivate(d))
	require.NoError(MkdirPrivate(d))

	fi, err := os.Stat(d)
	require.NoError(err)
	require.True(fi.IsDir())
	require.Equal(os.FileMode(0700), fi.Mode().Perm()&^0022)
}
