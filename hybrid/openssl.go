// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package hybrid

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/pbkdf2"

	"github.com/katzenpost/crowdlog/core/failure"
)

const (
	saltMagic = "Salted__"
	saltSize  = 8
	keySize   = 32
	ivSize    = aes.BlockSize

	// PBKDF2Iterations matches the `openssl enc -pbkdf2` default.
	PBKDF2Iterations = 10000
)

var (
	errNoSalt     = errors.New("missing Salted__ header")
	errBadLength  = errors.New("ciphertext is not a whole number of blocks")
	errBadPadding = errors.New("bad padding")
)

// KDF selects how the AES key and IV are derived from a passphrase and
// salt, following the variants `openssl enc` has used over time.
type KDF int

const (
	// KDFMD5 is EVP_BytesToKey with MD5 and one round, the historical
	// `openssl enc` default.
	KDFMD5 KDF = iota

	// KDFSHA256 is EVP_BytesToKey with SHA-256 (`-md sha256`, the
	// OpenSSL 1.1 default).
	KDFSHA256

	// KDFPBKDF2 is PBKDF2-HMAC-SHA256 (`-pbkdf2`).
	KDFPBKDF2
)

// String returns the name ParseKDF accepts.
func (k KDF) String() string {
	switch k {
	case KDFMD5:
		return "md5"
	case KDFSHA256:
		return "sha256"
	case KDFPBKDF2:
		return "pbkdf2"
	default:
		return fmt.Sprintf("KDF(%d)", int(k))
	}
}

// ParseKDF parses a KDF name.  The empty string selects KDFMD5.
func ParseKDF(s string) (KDF, error) {
	switch strings.ToLower(s) {
	case "", "md5":
		return KDFMD5, nil
	case "sha256":
		return KDFSHA256, nil
	case "pbkdf2":
		return KDFPBKDF2, nil
	default:
		return 0, fmt.Errorf("hybrid: unknown KDF '%s'", s)
	}
}

func (k KDF) derive(pass, salt []byte) ([]byte, []byte, error) {
	var km []byte
	switch k {
	case KDFMD5:
		km = bytesToKey(md5.New, pass, salt)
	case KDFSHA256:
		km = bytesToKey(sha256.New, pass, salt)
	case KDFPBKDF2:
		km = pbkdf2.Key(pass, salt, PBKDF2Iterations, keySize+ivSize, sha256.New)
	default:
		return nil, nil, fmt.Errorf("unknown KDF %v", k)
	}
	return km[:keySize], km[keySize : keySize+ivSize], nil
}

// bytesToKey is OpenSSL's EVP_BytesToKey with a single iteration:
// D_i = H(D_{i-1} || pass || salt), concatenated until enough material
// exists for the key and IV.
func bytesToKey(h func() hash.Hash, pass, salt []byte) []byte {
	var out, prev []byte
	for len(out) < keySize+ivSize {
		d := h()
		d.Write(prev)
		d.Write(pass)
		d.Write(salt)
		prev = d.Sum(nil)
		out = append(out, prev...)
	}
	return out
}

// decodeBase64 decodes standard base64, ignoring the line breaks
// `openssl enc -a` inserts.
func decodeBase64(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// encodeBase64 encodes b wrapped at 64 columns like `openssl enc -a`.
func encodeBase64(b []byte) string {
	const width = 64
	s := base64.StdEncoding.EncodeToString(b)
	var sb strings.Builder
	for len(s) > width {
		sb.WriteString(s[:width])
		sb.WriteByte('\n')
		s = s[width:]
	}
	sb.WriteString(s)
	return sb.String()
}

// DecryptSymmetric decrypts base64 `openssl enc -aes-256-cbc -a` output
// with passphrase pass, and strips a single trailing newline from the
// plaintext.  All failures are CryptoErrors.
func DecryptSymmetric(pass, ciphertext string, kdf KDF) (string, error) {
	const op = "aes-256-cbc"

	raw, err := decodeBase64(ciphertext)
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	if len(raw) < len(saltMagic)+saltSize || !bytes.Equal(raw[:len(saltMagic)], []byte(saltMagic)) {
		return "", failure.Crypto(op, errNoSalt)
	}
	salt := raw[len(saltMagic) : len(saltMagic)+saltSize]
	ct := raw[len(saltMagic)+saltSize:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", failure.Crypto(op, errBadLength)
	}

	key, iv, err := kdf.derive([]byte(pass), salt)
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	pt, err = unpad(pt)
	if err != nil {
		return "", failure.Crypto(op, err)
	}
	return strings.TrimSuffix(string(pt), "\n"), nil
}

// EncryptSymmetric is the inverse of DecryptSymmetric, producing output
// byte compatible with `openssl enc -aes-256-cbc -a -salt`.
func EncryptSymmetric(pass, plaintext string, kdf KDF) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key, iv, err := kdf.derive([]byte(pass), salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	pt := pad([]byte(plaintext))
	out := make([]byte, len(saltMagic)+saltSize+len(pt))
	copy(out, saltMagic)
	copy(out[len(saltMagic):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(saltMagic)+saltSize:], pt)
	return encodeBase64(out), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
