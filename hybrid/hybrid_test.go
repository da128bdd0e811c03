// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package hybrid

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/failure"
)

// Produced by `echo "hello crowd" | openssl enc -aes-256-cbc -a -salt
// -pass pass:secret123` with the respective key derivation flags.
var opensslVectors = map[KDF]string{
	KDFMD5:    "U2FsdGVkX188QyRP5LCnZOZOLiUlee8jkONGdLDe+ws=",
	KDFSHA256: "U2FsdGVkX19zN3tiiw5i5+YMDw2IrGqU89ij6raV6eo=",
	KDFPBKDF2: "U2FsdGVkX1+w5ts8QomI0pMZv9vJXLR5v7yVzlRT+Yw=",
}

func testKey(t *testing.T) *rsa.PrivateKey {
	k, err := LoadPrivateKey(filepath.Join("testdata", "private_pkcs1.pem"))
	require.NoError(t, err)
	return k
}

func TestOpenSSLVectors(t *testing.T) {
	require := require.New(t)

	for kdf, ct := range opensslVectors {
		pt, err := DecryptSymmetric("secret123", ct, kdf)
		require.NoError(err, kdf.String())
		require.Equal("hello crowd", pt, kdf.String())
	}

	_, err := DecryptSymmetric("wrong", opensslVectors[KDFMD5], KDFMD5)
	require.Error(err)
	require.True(failure.IsCrypto(err))
}

func TestSymmetricRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, kdf := range []KDF{KDFMD5, KDFSHA256, KDFPBKDF2} {
		for _, msg := range []string{"", "a", "exactly sixteen!", strings.Repeat("long message ", 40), "trailing\n\n"} {
			ct, err := EncryptSymmetric("608375017745352119000495708316353808485004039356", msg, kdf)
			require.NoError(err)
			pt, err := DecryptSymmetric("608375017745352119000495708316353808485004039356", ct, kdf)
			require.NoError(err)
			require.Equal(strings.TrimSuffix(msg, "\n"), pt)
		}
	}
}

func TestSymmetricMalformed(t *testing.T) {
	require := require.New(t)

	for _, ct := range []string{
		"!!! not base64",
		"aGVsbG8gd29ybGQ=",             // no Salted__ header
		"U2FsdGVkX19zN3tiiw5i5w==",     // header, no blocks
		"U2FsdGVkX19zN3tiiw5i5+YMDw2I", // truncated block
	} {
		_, err := DecryptSymmetric("secret123", ct, KDFMD5)
		require.Error(err, ct)
		require.True(failure.IsCrypto(err), ct)
	}
}

func TestParseKDF(t *testing.T) {
	require := require.New(t)

	for _, kdf := range []KDF{KDFMD5, KDFSHA256, KDFPBKDF2} {
		got, err := ParseKDF(strings.ToUpper(kdf.String()))
		require.NoError(err)
		require.Equal(kdf, got)
	}
	got, err := ParseKDF("")
	require.NoError(err)
	require.Equal(KDFMD5, got)
	_, err = ParseKDF("scrypt")
	require.Error(err)
}

func TestDecryptWrappedKey(t *testing.T) {
	require := require.New(t)

	d := New(testKey(t))

	// Produced by `printf c2VjcmV0MTIz | openssl pkeyutl -encrypt -pubin
	// -inkey public.pem -pkeyopt rsa_padding_mode:pkcs1 | openssl base64`.
	b, err := os.ReadFile(filepath.Join("testdata", "wrapped_key.b64"))
	require.NoError(err)
	pass, err := d.DecryptWrappedKey(string(b))
	require.NoError(err)
	require.Equal("secret123", pass)

	wrapped, err := WrapKey(&testKey(t).PublicKey, "another passphrase")
	require.NoError(err)
	require.Contains(wrapped, "\n")
	pass, err = d.DecryptWrappedKey(wrapped)
	require.NoError(err)
	require.Equal("another passphrase", pass)

	// Tampering breaks the padding check.
	tampered := []byte(strings.ReplaceAll(wrapped, "\n", ""))
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}
	_, err = d.DecryptWrappedKey(string(tampered))
	require.True(failure.IsCrypto(err))

	_, err = New(nil).DecryptWrappedKey(wrapped)
	require.True(failure.IsCrypto(err))
	require.ErrorIs(err, ErrNoKey)
}

func TestDecryptEEArtifact(t *testing.T) {
	require := require.New(t)

	k, err := LoadPrivateKey(filepath.Join("testdata", "private_pkcs8.pem"))
	require.NoError(err)
	d := New(k)

	ee, err := os.ReadFile(filepath.Join("testdata", "eeartifact.json"))
	require.NoError(err)
	want, err := os.ReadFile(filepath.Join("testdata", "eartifact.json"))
	require.NoError(err)

	line, err := d.DecryptEEArtifact(strings.TrimSpace(string(ee)))
	require.NoError(err)
	require.Equal(string(want), line)

	e, err := artifact.ParseEArtifact(line)
	require.NoError(err)
	require.Equal("exp-1", e.ExperimentID)

	_, err = d.DecryptEEArtifact(`{"encrypted_data":"x"}`)
	require.True(failure.IsParse(err))
}

func TestSealRoundTrip(t *testing.T) {
	require := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)

	privPEM, err := MarshalPrivateKey(key)
	require.NoError(err)
	pubPEM, err := MarshalPublicKey(&key.PublicKey)
	require.NoError(err)

	priv, err := ParsePrivateKey(privPEM)
	require.NoError(err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(err)

	line, err := Seal(pub, `{"x":"1"}`, KDFPBKDF2)
	require.NoError(err)

	pt, err := New(priv, WithKDF(KDFPBKDF2)).DecryptEEArtifact(line)
	require.NoError(err)
	require.Equal(`{"x":"1"}`, pt)

	_, err = ParsePrivateKey(pubPEM)
	require.Error(err)
	_, err = ParsePublicKey([]byte("garbage"))
	require.Error(err)
}
