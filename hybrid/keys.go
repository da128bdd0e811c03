// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package hybrid

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	pemTypePKCS8 = "PRIVATE KEY"
	pemTypePKCS1 = "RSA PRIVATE KEY"
	pemTypePKIX  = "PUBLIC KEY"
	pemTypeRSA   = "RSA PUBLIC KEY"
)

// ParsePrivateKey parses an RSA private key from PEM.  Both the PKCS#8
// "PRIVATE KEY" form written by `openssl genpkey` and the PKCS#1
// "RSA PRIVATE KEY" form written by `openssl genrsa` are accepted.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("hybrid: failed to decode PEM block")
	}

	switch block.Type {
	case pemTypePKCS8:
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: failed to parse PKCS8 private key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("hybrid: key is not an RSA private key, got %T", k)
		}
		return rsaKey, nil
	case pemTypePKCS1:
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: failed to parse PKCS1 private key: %w", err)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("hybrid: unsupported PEM block type: %s", block.Type)
	}
}

// LoadPrivateKey reads and parses an RSA private key PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hybrid: failed to read private key: %w", err)
	}
	return ParsePrivateKey(b)
}

// ParsePublicKey parses an RSA public key from a "PUBLIC KEY" or
// "RSA PUBLIC KEY" PEM block.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("hybrid: failed to decode PEM block")
	}

	switch block.Type {
	case pemTypePKIX:
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: failed to parse PKIX public key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("hybrid: key is not an RSA public key, got %T", k)
		}
		return rsaKey, nil
	case pemTypeRSA:
		rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: failed to parse PKCS1 public key: %w", err)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("hybrid: unsupported PEM block type: %s", block.Type)
	}
}

// MarshalPrivateKey returns key as a PKCS#8 PEM block.
func MarshalPrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}), nil
}

// MarshalPublicKey returns key as a PKIX PEM block.
func MarshalPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKIX, Bytes: der}), nil
}
