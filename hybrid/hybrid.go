// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hybrid implements the RSA + AES transport encryption that wraps
// artifacts on their way to the collection server.
//
// A wrapped key is the base64 RSA PKCS#1 v1.5 encryption of the base64
// encoded AES passphrase.  Payloads are `openssl enc -aes-256-cbc -a`
// compatible.
package hybrid

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/failure"
)

// ErrNoKey is wrapped by the CryptoError returned when a wrapped key is
// presented to a Decryptor without a private key.
var ErrNoKey = errors.New("no private key configured")

// Decryptor holds the server's private key.  It is safe for concurrent use.
type Decryptor struct {
	key *rsa.PrivateKey
	kdf KDF
}

// Option configures a Decryptor.
type Option func(*Decryptor)

// WithKDF selects the passphrase KDF used by DecryptSymmetric.
func WithKDF(kdf KDF) Option {
	return func(d *Decryptor) {
		d.kdf = kdf
	}
}

// New returns a Decryptor.  key may be nil for a Decryptor that is only
// used for symmetric decryption.
func New(key *rsa.PrivateKey, opts ...Option) *Decryptor {
	d := &Decryptor{key: key, kdf: KDFMD5}
	for _, o := range opts {
		o(d)
	}
	return d
}

// KDF returns the configured passphrase KDF.
func (d *Decryptor) KDF() KDF {
	return d.kdf
}

// DecryptWrappedKey recovers the AES passphrase from a wrapped key.
func (d *Decryptor) DecryptWrappedKey(ciphertext string) (string, error) {
	const op = "rsa"

	if d.key == nil {
		return "", failure.Crypto(op, ErrNoKey)
	}
	ct, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(ciphertext, "\n", ""))
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	pt, err := rsa.DecryptPKCS1v15(nil, d.key, ct)
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	pass, err := base64.StdEncoding.DecodeString(string(pt))
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	return string(pass), nil
}

// DecryptSymmetric decrypts an `openssl enc` payload with the configured
// KDF.
func (d *Decryptor) DecryptSymmetric(pass, ciphertext string) (string, error) {
	return DecryptSymmetric(pass, ciphertext, d.kdf)
}

// DecryptEEArtifact unwraps one ee-artifact line into the e-artifact line
// it carries.
func (d *Decryptor) DecryptEEArtifact(line string) (string, error) {
	ee, err := artifact.ParseEEArtifact(line)
	if err != nil {
		return "", err
	}
	pass, err := d.DecryptWrappedKey(ee.RSAProtectedKey)
	if err != nil {
		return "", err
	}
	return d.DecryptSymmetric(pass, ee.EncryptedData)
}

// WrapKey is the inverse of DecryptWrappedKey.
func WrapKey(pub *rsa.PublicKey, passphrase string) (string, error) {
	pt := base64.StdEncoding.EncodeToString([]byte(passphrase))
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(pt))
	if err != nil {
		return "", err
	}
	return encodeBase64(ct), nil
}

// Seal hybrid encrypts an e-artifact line for pub under a fresh random
// passphrase, returning the ee-artifact line.
func Seal(pub *rsa.PublicKey, eartifact string, kdf KDF) (string, error) {
	var raw [24]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", err
	}
	pass := base64.RawURLEncoding.EncodeToString(raw[:])

	wrapped, err := WrapKey(pub, pass)
	if err != nil {
		return "", err
	}
	data, err := EncryptSymmetric(pass, eartifact, kdf)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(&artifact.EEArtifact{
		RSAProtectedKey: wrapped,
		EncryptedData:   data,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
