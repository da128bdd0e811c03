// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package artifact defines the line oriented JSON records that flow through
// the pipeline: transport wrapped ee-artifacts, secret shared e-artifacts,
// and the reconstructed and suppressed outputs of a decrypt run.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/katzenpost/crowdlog/core/failure"
)

// EEArtifact is an e-artifact hybrid encrypted to the collection server.
type EEArtifact struct {
	// RSAProtectedKey is the base64 RSA ciphertext of the base64 encoded
	// AES passphrase.  It may contain embedded newlines.
	RSAProtectedKey string `json:"rsa_protected_key"`

	// EncryptedData is the `openssl enc -aes-256-cbc -a` output.
	EncryptedData string `json:"encrypted_data"`
}

// EArtifact is a single submission with its secret shared fields.
type EArtifact struct {
	X                   Number `json:"x"`
	Y                   Number `json:"y"`
	K                   Number `json:"k"`
	PrimaryCipherText   string `json:"primary_cipher_text"`
	SecondaryCipherText string `json:"secondary_cipher_text"`
	ExperimentID        string `json:"experiment_id"`
}

// Threshold returns the declared threshold k.
func (e *EArtifact) Threshold() int {
	k, _ := strconv.Atoi(string(e.K))
	return k
}

// ReconstructedArtifact is the cleartext of a group that met its threshold.
type ReconstructedArtifact struct {
	PrimaryPrivateField    string           `json:"primary_private_field"`
	ExperimentID           string           `json:"experiment_id"`
	NumberOfDistinctParts  int              `json:"number_of_distinct_parts"`
	TotalInstances         int64            `json:"total_instances"`
	SecondaryPrivateFields map[string]int64 `json:"secondary_private_fields"`
}

// SuppressedStatistic summarizes every group that stayed below threshold
// with the same support level.
type SuppressedStatistic struct {
	Support   int   `json:"support"`
	Distinct  int64 `json:"distinct"`
	Instances int64 `json:"instances"`
}

// Number is a JSON value that may be sent either as a string or as a bare
// number.  It holds the literal text.
type Number string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = Number(num.String())
	return nil
}

// ParseEEArtifact parses one ee-artifact line.
func ParseEEArtifact(line string) (*EEArtifact, error) {
	var ee EEArtifact
	if err := json.Unmarshal([]byte(line), &ee); err != nil {
		return nil, failure.Parse("ee-artifact", err)
	}
	switch {
	case ee.RSAProtectedKey == "":
		return nil, failure.Parse("ee-artifact", errors.New("missing rsa_protected_key"))
	case ee.EncryptedData == "":
		return nil, failure.Parse("ee-artifact", errors.New("missing encrypted_data"))
	}
	return &ee, nil
}

// ParseEArtifact parses one e-artifact line.
func ParseEArtifact(line string) (*EArtifact, error) {
	var e EArtifact
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return nil, failure.Parse("e-artifact", err)
	}
	if err := e.validate(); err != nil {
		return nil, failure.Parse("e-artifact", err)
	}
	return &e, nil
}

func (e *EArtifact) validate() error {
	switch {
	case e.PrimaryCipherText == "":
		return errors.New("missing primary_cipher_text")
	case e.SecondaryCipherText == "":
		return errors.New("missing secondary_cipher_text")
	case e.ExperimentID == "":
		return errors.New("missing experiment_id")
	case e.X == "":
		return errors.New("missing x")
	case e.Y == "":
		return errors.New("missing y")
	}
	k, err := strconv.Atoi(string(e.K))
	if err != nil {
		return fmt.Errorf("bad k '%s'", e.K)
	}
	if k < 1 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	return nil
}

// MarshalLine returns v as a single line of JSON without the trailing
// newline.
func MarshalLine(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
