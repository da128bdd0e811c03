// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	cartesian "github.com/schwarmco/go-cartesian-product"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/crowdlog/core/failure"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/server/config"
	"github.com/katzenpost/crowdlog/server/internal/glue"
)

type mockGlue struct {
	cfg        *config.Config
	logBackend *log.Backend
}

func (g *mockGlue) Config() *config.Config { return g.cfg }
func (g *mockGlue) LogBackend() *log.Backend { return g.logBackend }
func (g *mockGlue) Buffer() glue.Buffer { return nil }
func (g *mockGlue) Router() glue.Router { return nil }
func (g *mockGlue) Scheduler() glue.Scheduler { return nil }
func (g *mockGlue) Depot() glue.Depot { return nil }

func newMockGlue(t *testing.T, p float64, peers ...string) *mockGlue {
	quoted := make([]string, len(peers))
	for i, v := range peers {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Relay]
Identifier = "test"
DataDir = %q
Origin = "http://origin.example"
Peers = [ %s ]
MaxBundleSize = 10
ForwardProbability = %f
[Debug]
RetryBaseDelay = 1
RetryMaxDelay = 2
BreakerThreshold = 2
`, t.TempDir(), strings.Join(quoted, ", "), p)))
	require.NoError(t, err)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return &mockGlue{cfg: cfg, logBackend: logBackend}
}

type sent struct {
	dest   string
	bundle []string
}

type mockSender struct {
	sync.Mutex

	fail map[string]bool
	sent []sent
}

func (s *mockSender) Send(ctx context.Context, dest string, bundle []string) error {
	s.Lock()
	defer s.Unlock()

	s.sent = append(s.sent, sent{dest, bundle})
	if s.fail[dest] {
		return errors.New("connection refused")
	}
	return nil
}

func entries(n int) []string {
	e := make([]string, n)
	for i := range e {
		e[i] = fmt.Sprintf("entry-%d", i)
	}
	return e
}

func TestBundleCartesianProduct(t *testing.T) {
	require := require.New(t)

	sizes := []interface{}{0, 1, 2, 9, 10, 11, 99, 100, 101, 250}
	maxes := []interface{}{1, 2, 3, 10, 100, 1000}
	rng := rand.NewMath()

	for product := range cartesian.Iter(sizes, maxes) {
		n, size := product[0].(int), product[1].(int)
		in := entries(n)
		bundles := Bundle(in, size, rng)

		require.Len(bundles, (n+size-1)/size, "N=%d B=%d", n, size)
		var out []string
		for _, b := range bundles {
			require.NotEmpty(b)
			require.LessOrEqual(len(b), size)
			out = append(out, b...)
		}
		sort.Strings(out)
		want := entries(n)
		sort.Strings(want)
		if n == 0 {
			require.Empty(out)
		} else {
			require.Equal(want, out, "N=%d B=%d", n, size)
		}
		require.Equal(entries(n), in, "input must not be reordered")
	}
}

func TestBundle250(t *testing.T) {
	require := require.New(t)

	bundles := Bundle(entries(250), 100, rand.NewMath())
	require.Len(bundles, 3)
	total := 0
	for _, b := range bundles {
		require.LessOrEqual(len(b), 100)
		total += len(b)
	}
	require.Equal(250, total)
}

func TestRouteOrigin(t *testing.T) {
	require := require.New(t)

	g := newMockGlue(t, 1.0, "http://peer-a.example")
	s := &mockSender{fail: map[string]bool{}}
	r := New(g, s)

	require.NoError(r.RouteAll(context.Background(), entries(25)))
	require.Len(s.sent, 3)
	for _, v := range s.sent {
		require.Equal("http://origin.example", v.dest)
	}

	// The origin is tried exactly once.
	s.fail["http://origin.example"] = true
	s.sent = nil
	err := r.RouteAll(context.Background(), entries(25))
	require.Error(err)
	require.True(failure.IsTransport(err))
	require.Len(s.sent, 1)

	require.NoError(r.Route(context.Background(), nil))
}

func TestRouteNoPeers(t *testing.T) {
	require := require.New(t)

	g := newMockGlue(t, 0.0)
	s := &mockSender{fail: map[string]bool{}}
	require.NoError(New(g, s).RouteAll(context.Background(), entries(5)))
	require.Len(s.sent, 1)
	require.Equal("http://origin.example", s.sent[0].dest)
}

func TestRoutePeers(t *testing.T) {
	require := require.New(t)

	const dead, alive = "http://dead.example", "http://alive.example"
	g := newMockGlue(t, 0.0, dead, alive)
	s := &mockSender{fail: map[string]bool{dead: true}}
	r := New(g, s)

	for i := 0; len(r.breaker.Open([]string{dead, alive})) == 0; i++ {
		require.Less(i, 1000, "dead peer breaker never opened")
		require.NoError(r.Route(context.Background(), entries(3)))
	}
	require.Equal([]string{dead}, r.breaker.Open([]string{dead, alive}))

	// Once its breaker is open the dead peer is no longer picked.
	s.sent = nil
	for i := 0; i < 20; i++ {
		require.NoError(r.Route(context.Background(), entries(3)))
	}
	require.Len(s.sent, 20)
	for _, v := range s.sent {
		require.Equal(alive, v.dest)
	}
}

func TestRoutePeersCancelled(t *testing.T) {
	require := require.New(t)

	const a, b = "http://a.example", "http://b.example"
	g := newMockGlue(t, 0.0, a, b)
	s := &mockSender{fail: map[string]bool{a: true, b: true}}
	r := New(g, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Route(ctx, entries(1))
	require.Error(err)
	require.True(failure.IsTransport(err))
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Greater(len(s.sent), 2)
}

func TestHTTPSender(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.URL.Path == "/fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		mu.Lock()
		got = append(got, req.PostForm.Get(FormField))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(5 * time.Second)
	require.NoError(s.Send(context.Background(), srv.URL, []string{"a", "b&c=d"}))
	require.NoError(s.Send(context.Background(), srv.URL+"/fail", nil))
	require.Error(s.Send(context.Background(), srv.URL+"/fail", []string{"x"}))
	require.Error(s.Send(context.Background(), "http://127.0.0.1:1", []string{"x"}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal([]string{"a\nb&c=d"}, got)
}
