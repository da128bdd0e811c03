// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package utils provides small filesystem helpers.
package utils

import (
	"errors"
	"os"
)

// Exists returns true if f exists.  Errors other than non-existence are
// returned to the caller.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// AnyExists returns true if any of fs exists.
func AnyExists(fs ...string) (bool, error) {
	for _, f := range fs {
		ok, err := Exists(f)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// MkdirPrivate creates dir, and any parents, readable only by the owner.
// An existing directory is left as is.
func MkdirPrivate(dir string) error {
	const dirMode = 0700
	return os.MkdirAll(dir, dirMode)
}
