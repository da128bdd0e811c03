// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router bundles buffered entries and sends each bundle either to
// the origin or through a randomly chosen peer relay.
package router

import (
	"context"
	"errors"
	mRand "math/rand"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/failure"
	"github.com/katzenpost/crowdlog/core/retry"
	"github.com/katzenpost/crowdlog/server/internal/glue"
	"github.com/katzenpost/crowdlog/server/internal/instrument"
)

const (
	destOrigin = "origin"
	destPeer   = "peer"
)

var errNoOrigin = errors.New("no origin configured")

// Router implements glue.Router.
type Router struct {
	log    *logging.Logger
	sender Sender

	origin    string
	peers     []string
	p         float64
	maxBundle int

	policy  retry.Policy
	breaker *retry.Breaker

	rngLock sync.Mutex
	rng     *mRand.Rand
}

// New returns a Router configured from the relay configuration.
func New(g glue.Glue, sender Sender) *Router {
	cfg := g.Config()
	return &Router{
		log:       g.LogBackend().GetLogger("router"),
		sender:    sender,
		origin:    cfg.Relay.Origin,
		peers:     cfg.Relay.Peers,
		p:         *cfg.Relay.ForwardProbability,
		maxBundle: cfg.Relay.MaxBundleSize,
		policy: retry.Policy{
			BaseDelay: time.Duration(cfg.Debug.RetryBaseDelay) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Debug.RetryMaxDelay) * time.Millisecond,
			Jitter:    retry.DefaultJitter,
		},
		breaker: retry.NewBreaker(cfg.Debug.BreakerThreshold, time.Duration(cfg.Debug.BreakerCooldown)*time.Millisecond),
		rng:     rand.NewMath(),
	}
}

// RouteAll bundles entries and routes every bundle.  The first bundle that
// cannot be routed fails the whole call.
func (r *Router) RouteAll(ctx context.Context, entries []string) error {
	r.rngLock.Lock()
	bundles := Bundle(entries, r.maxBundle, r.rng)
	r.rngLock.Unlock()

	r.log.Debugf("Routing %d entries in %d bundles.", len(entries), len(bundles))
	for i, b := range bundles {
		if err := r.Route(ctx, b); err != nil {
			r.log.Warningf("Bundle %d/%d failed: %v", i+1, len(bundles), err)
			return err
		}
	}
	return nil
}

// Route delivers one bundle.  With the forward probability, or when there
// are no peers, it is sent to the origin once and a failure is returned.
// Otherwise random peers are tried until one accepts it or ctx is done.
func (r *Router) Route(ctx context.Context, bundle []string) error {
	if len(bundle) == 0 {
		return nil
	}
	if len(r.peers) == 0 || r.toOrigin() {
		return r.sendOrigin(ctx, bundle)
	}

	for attempt := 0; ; attempt++ {
		peer := r.pickPeer()
		err := r.sender.Send(ctx, peer, bundle)
		if err == nil {
			r.breaker.Success(peer)
			instrument.BundleSent(destPeer)
			return nil
		}

		instrument.SendFailed(destPeer)
		if r.breaker.Failure(peer) {
			r.log.Warningf("Skipping peer %s after repeated failures: %v", peer, err)
		} else {
			r.log.Debugf("Send to peer %s failed: %v", peer, err)
		}
		if err = r.policy.Wait(ctx, attempt); err != nil {
			return failure.Transport(destPeer, err)
		}
	}
}

func (r *Router) sendOrigin(ctx context.Context, bundle []string) error {
	if r.origin == "" {
		return failure.Transport(destOrigin, errNoOrigin)
	}
	if err := r.sender.Send(ctx, r.origin, bundle); err != nil {
		instrument.SendFailed(destOrigin)
		return failure.Transport(destOrigin, err)
	}
	instrument.BundleSent(destOrigin)
	return nil
}

func (r *Router) toOrigin() bool {
	r.rngLock.Lock()
	defer r.rngLock.Unlock()

	return r.rng.Float64() < r.p
}

// pickPeer returns a uniformly random peer among those whose breaker is
// closed, or among all peers if every breaker is open.
func (r *Router) pickPeer() string {
	candidates := make([]string, 0, len(r.peers))
	for _, p := range r.peers {
		if r.breaker.Allow(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		r.log.Debugf("All %d peers are being skipped, trying one anyway.", len(r.breaker.Open(r.peers)))
		candidates = r.peers
	}

	r.rngLock.Lock()
	defer r.rngLock.Unlock()

	return candidates[r.rng.Intn(len(candidates))]
}
