// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	var w Worker
	var stopped atomic.Int32
	for i := 0; i < 3; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}

	ctx, cancel := w.HaltContext()
	defer cancel()

	w.Halt()
	w.Halt()
	require.Equal(int32(3), stopped.Load())

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("halt context was not cancelled")
	}
}
