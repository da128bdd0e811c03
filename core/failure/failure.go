// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package failure defines the error taxonomy shared by the relay and the
// decryption pipeline.
//
// Each kind tells the caller how far a failure is allowed to propagate:
// a TransportError is retried, a CryptoError or ParseError drops the single
// record or group being processed, and a CapacityError is a configuration
// fault reported at startup.
package failure

import (
	"errors"
	"fmt"
)

// TransportError is a network or send failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return format("transport", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// CryptoError is a decryption failure: bad padding, a wrong key or a
// malformed ciphertext.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return format("crypto", e.Op, e.Err) }

func (e *CryptoError) Unwrap() error { return e.Err }

// ParseError is a malformed wire record.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string { return format("parse", e.Op, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// CapacityError is a sizing parameter that can never work, such as a zero
// bundle size.
type CapacityError struct {
	Op  string
	Err error
}

func (e *CapacityError) Error() string { return format("capacity", e.Op, e.Err) }

func (e *CapacityError) Unwrap() error { return e.Err }

// Transport returns a new TransportError.
func Transport(op string, err error) error { return &TransportError{Op: op, Err: err} }

// Crypto returns a new CryptoError.
func Crypto(op string, err error) error { return &CryptoError{Op: op, Err: err} }

// Parse returns a new ParseError.
func Parse(op string, err error) error { return &ParseError{Op: op, Err: err} }

// Capacity returns a new CapacityError.
func Capacity(op string, err error) error { return &CapacityError{Op: op, Err: err} }

// IsTransport returns true iff err wraps a TransportError.
func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsCrypto returns true iff err wraps a CryptoError.
func IsCrypto(err error) bool {
	var e *CryptoError
	return errors.As(err, &e)
}

// IsParse returns true iff err wraps a ParseError.
func IsParse(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsCapacity returns true iff err wraps a CapacityError.
func IsCapacity(err error) bool {
	var e *CapacityError
	return errors.As(err, &e)
}

func format(kind, op string, err error) string {
	if op == "" {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return fmt.Sprintf("%s: %s: %v", kind, op, err)
}
