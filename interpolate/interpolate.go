// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package interpolate reconstructs shared secrets by Lagrange interpolation
// over arbitrary precision decimals.
package interpolate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DivisionScale is the number of fractional digits kept when dividing each
// Lagrange term by its denominator.  Rounding is half-up.
const DivisionScale = 5

var (
	// ErrTooFewPoints is returned when fewer than k points are available.
	ErrTooFewPoints = errors.New("interpolate: fewer points than the degree")

	// ErrDuplicateX is returned when two of the selected points share an x.
	ErrDuplicateX = errors.New("interpolate: duplicate x value")
)

// Points is a set of (x, y) samples with unique x values.  Iteration order
// is insertion order, which is the order Evaluate selects points in.
type Points struct {
	xs    []decimal.Decimal
	ys    []decimal.Decimal
	index map[string]int
}

// NewPoints returns an empty point set.
func NewPoints() *Points {
	return &Points{index: make(map[string]int)}
}

// Add inserts (x, y) and returns true, or returns false and leaves the set
// untouched if a point with the same x value is already held.
func (p *Points) Add(x, y decimal.Decimal) bool {
	key := x.String()
	if _, ok := p.index[key]; ok {
		return false
	}
	p.index[key] = len(p.xs)
	p.xs = append(p.xs, x)
	p.ys = append(p.ys, y)
	return true
}

// AddString parses and inserts a point given as decimal strings.
func (p *Points) AddString(x, y string) (bool, error) {
	dx, err := decimal.NewFromString(x)
	if err != nil {
		return false, fmt.Errorf("interpolate: bad x '%s': %w", x, err)
	}
	dy, err := decimal.NewFromString(y)
	if err != nil {
		return false, fmt.Errorf("interpolate: bad y '%s': %w", y, err)
	}
	return p.Add(dx, dy), nil
}

// Len returns the number of points held.
func (p *Points) Len() int {
	return len(p.xs)
}

// X returns the x value of the i-th point.
func (p *Points) X(i int) decimal.Decimal {
	return p.xs[i]
}

// Y returns the y value of the i-th point.
func (p *Points) Y(i int) decimal.Decimal {
	return p.ys[i]
}

// Evaluate returns the value at x of the degree k-1 polynomial through the
// first k points:
//
//	y(x) = sum_j y_j * prod_{i!=j} (x - x_i) / (x_j - x_i)
//
// Each term's numerator y_j * prod(x - x_i) is computed exactly and then
// divided by prod(x_j - x_i) keeping DivisionScale digits.  Extra points
// beyond k are ignored.
func Evaluate(p *Points, k int, x decimal.Decimal) (decimal.Decimal, error) {
	if k < 1 || p.Len() < k {
		return decimal.Zero, ErrTooFewPoints
	}

	y := decimal.Zero
	for j := 0; j < k; j++ {
		num := decimal.NewFromInt(1)
		den := decimal.NewFromInt(1)
		for i := 0; i < k; i++ {
			if i == j {
				continue
			}
			num = num.Mul(x.Sub(p.xs[i]))
			den = den.Mul(p.xs[j].Sub(p.xs[i]))
		}
		if den.IsZero() {
			return decimal.Zero, ErrDuplicateX
		}
		y = y.Add(p.ys[j].Mul(num).DivRound(den, DivisionScale))
	}
	return y, nil
}

// EvaluateAndRound is Evaluate followed by Round.
func EvaluateAndRound(p *Points, k int, x decimal.Decimal) (string, error) {
	y, err := Evaluate(p, k, x)
	if err != nil {
		return "", err
	}
	return Round(y), nil
}

// Round rounds d to the nearest integer and returns it in plain notation.
//
// Only the last integer digit and the first three fractional digits take
// part in the rounding decision, half-up on the magnitude, so values with
// arbitrarily many integer digits round without precision loss.  A carry
// out of the last digit propagates to the left.  A value without a
// fractional part is returned unchanged.
func Round(d decimal.Decimal) string {
	s := d.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart, frac, ok := strings.Cut(s, ".")
	if !ok {
		return d.String()
	}
	// Half-up on "<last digit>.<three fractional digits>" only depends on
	// the leading fractional digit.
	digits := []byte(intPart)
	if frac[0] >= '5' {
		digits = increment(digits)
	}

	out := string(digits)
	if neg && strings.Trim(out, "0") != "" {
		out = "-" + out
	}
	return out
}

// increment adds one to a string of decimal digits.
func increment(digits []byte) []byte {
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < '9' {
			digits[i]++
			return digits
		}
		digits[i] = '0'
	}
	return append([]byte{'1'}, digits...)
}
