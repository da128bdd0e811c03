// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package artifact

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/core/failure"
)

func TestParseEArtifact(t *testing.T) {
	require := require.New(t)

	e, err := ParseEArtifact(`{"x":"3","y":16,"k":"3","primary_cipher_text":"p","secondary_cipher_text":"s","experiment_id":"exp-1"}`)
	require.NoError(err)
	require.Equal(Number("3"), e.X)
	require.Equal(Number("16"), e.Y)
	require.Equal(3, e.Threshold())
	require.Equal("exp-1", e.ExperimentID)

	for _, bad := range []string{
		`not json`,
		`{"x":"1","y":"2","k":3,"secondary_cipher_text":"s","experiment_id":"e"}`,
		`{"x":"1","y":"2","k":0,"primary_cipher_text":"p","secondary_cipher_text":"s","experiment_id":"e"}`,
		`{"x":"1","y":"2","k":"three","primary_cipher_text":"p","secondary_cipher_text":"s","experiment_id":"e"}`,
		`{"y":"2","k":1,"primary_cipher_text":"p","secondary_cipher_text":"s","experiment_id":"e"}`,
	} {
		_, err := ParseEArtifact(bad)
		require.Error(err, bad)
		require.True(failure.IsParse(err), bad)
	}
}

func TestParseEEArtifact(t *testing.T) {
	require := require.New(t)

	ee, err := ParseEEArtifact(`{"rsa_protected_key":"abc\ndef","encrypted_data":"U2FsdGVkX1"}`)
	require.NoError(err)
	require.Equal("abc\ndef", ee.RSAProtectedKey)

	_, err = ParseEEArtifact(`{"rsa_protected_key":"abc"}`)
	require.True(failure.IsParse(err))
	_, err = ParseEEArtifact(`[]`)
	require.True(failure.IsParse(err))
}

func TestMarshalOutputs(t *testing.T) {
	require := require.New(t)

	b, err := MarshalLine(&SuppressedStatistic{Support: 2, Distinct: 1, Instances: 5})
	require.NoError(err)
	require.JSONEq(`{"support":2,"distinct":1,"instances":5}`, string(b))

	b, err = MarshalLine(&ReconstructedArtifact{
		PrimaryPrivateField:    "query",
		ExperimentID:           "exp",
		NumberOfDistinctParts:  3,
		TotalInstances:         4,
		SecondaryPrivateFields: map[string]int64{"a": 3, "b": 1},
	})
	require.NoError(err)
	require.JSONEq(`{"primary_private_field":"query","experiment_id":"exp","number_of_distinct_parts":3,"total_instances":4,"secondary_private_fields":{"a":3,"b":1}}`, string(b))
}
