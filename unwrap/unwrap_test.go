// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package unwrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/hybrid"
	"github.com/katzenpost/crowdlog/sink"
)

func TestRun(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	key, err := hybrid.LoadPrivateKey(filepath.Join("..", "hybrid", "testdata", "private_pkcs1.pem"))
	require.NoError(err)
	dec := hybrid.New(key)

	// Produced with openssl against the same key.
	fixture, err := os.ReadFile(filepath.Join("..", "hybrid", "testdata", "eeartifact.json"))
	require.NoError(err)

	sealed := func(exp string) string {
		l, err := hybrid.Seal(&key.PublicKey, `{"x":"2","y":"13","k":"3","primary_cipher_text":"c","secondary_cipher_text":"c","experiment_id":"`+exp+`"}`, hybrid.KDFMD5)
		require.NoError(err)
		return l
	}
	notAnArtifact, err := hybrid.Seal(&key.PublicKey, `{"hello":"world"}`, hybrid.KDFMD5)
	require.NoError(err)

	dir := t.TempDir()
	in := filepath.Join(dir, "raw.000")
	require.NoError(os.WriteFile(in, []byte(strings.Join([]string{
		strings.TrimSpace(string(fixture)),
		sealed("exp-1"),
		"garbage",
		`{"rsa_protected_key":"AAAA","encrypted_data":"U2FsdGVkX1"}`,
		notAnArtifact,
		"",
		sealed("exp 2"),
	}, "\n")), 0600))

	out := filepath.Join(dir, "out")
	w, err := sink.NewPartitioned(out, 1, logBackend)
	require.NoError(err)

	s, err := Run(dec, []string{in, filepath.Join(dir, "missing")}, w, logBackend)
	require.Error(err)
	require.NoError(w.Close())
	require.Equal(&Summary{Read: 6, Unwrapped: 3, Skipped: 3}, s)

	b, err := os.ReadFile(filepath.Join(out, "exp_1-Y"+sink.PartitionSuffix))
	require.NoError(err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(lines, 1)
	rec, err := artifact.ParseEArtifact(lines[0])
	require.NoError(err)
	require.Equal("exp-1", rec.ExperimentID)

	b, err = os.ReadFile(filepath.Join(out, "exp_1-zz"+sink.PartitionSuffix))
	require.NoError(err)
	require.Equal(1, strings.Count(string(b), "\n"))

	_, err = os.Stat(filepath.Join(out, "exp_2-zz"+sink.PartitionSuffix))
	require.NoError(err)
}
