// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import mRand "math/rand"

// Bundle shuffles a copy of entries and packs it, in shuffled order, into
// ceil(N/size) bundles of size entries, the last of which may be smaller.  A
// non-positive size places everything in one bundle.
func Bundle(entries []string, size int, rng *mRand.Rand) [][]string {
	n := len(entries)
	if n == 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}

	shuffled := make([]string, n)
	copy(shuffled, entries)
	rng.Shuffle(n, func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	bundles := make([][]string, 0, (n+size-1)/size)
	for len(shuffled) > 0 {
		sz := size
		if sz > len(shuffled) {
			sz = len(shuffled)
		}
		bundles = append(bundles, shuffled[:sz:sz])
		shuffled = shuffled[sz:]
	}
	return bundles
}
