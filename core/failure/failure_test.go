// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	require := require.New(t)

	base := errors.New("boom")

	err := fmt.Errorf("router: flush: %w", Transport("send", base))
	require.True(IsTransport(err))
	require.False(IsCrypto(err))
	require.ErrorIs(err, base)
	require.EqualError(err, "router: flush: transport: send: boom")

	require.True(IsCrypto(Crypto("aes", base)))
	require.True(IsParse(Parse("", base)))
	require.EqualError(Parse("", base), "parse: boom")
	require.True(IsCapacity(Capacity("bundle", base)))
	require.False(IsCapacity(nil))
}
