// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package aggregator groups e-artifacts by their primary ciphertext and
// reconstructs the cleartext of every group that has reached its threshold.
package aggregator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/failure"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/hybrid"
	"github.com/katzenpost/crowdlog/interpolate"
)

// Group is every share received for one primary ciphertext.
type Group struct {
	PrimaryCipherText string
	ExperimentID      string
	K                 int

	points    *interpolate.Points
	secondary map[string]int64
	order     []string
	instances int64
}

func newGroup(rec *artifact.EArtifact) *Group {
	return &Group{
		PrimaryCipherText: rec.PrimaryCipherText,
		ExperimentID:      rec.ExperimentID,
		K:                 rec.Threshold(),
		points:            interpolate.NewPoints(),
		secondary:         make(map[string]int64),
	}
}

// Fold adds rec's share to the group.  A share whose x is already held is
// ignored, but the record still counts as an instance.
func (g *Group) Fold(rec *artifact.EArtifact) error {
	x, err := decimal.NewFromString(string(rec.X))
	if err != nil {
		return failure.Parse("x", err)
	}
	y, err := decimal.NewFromString(string(rec.Y))
	if err != nil {
		return failure.Parse("y", err)
	}
	g.points.Add(x, y)
	if _, ok := g.secondary[rec.SecondaryCipherText]; !ok {
		g.order = append(g.order, rec.SecondaryCipherText)
	}
	g.secondary[rec.SecondaryCipherText]++
	g.instances++
	return nil
}

// Support returns the number of distinct shares held.
func (g *Group) Support() int {
	return g.points.Len()
}

// HasSupport returns true iff the group holds at least k distinct shares.
func (g *Group) HasSupport() bool {
	return g.Support() >= g.K
}

// Instances returns the number of records folded into the group.
func (g *Group) Instances() int64 {
	return g.instances
}

// Aggregator owns the groups built from a batch of e-artifacts.
type Aggregator struct {
	log *logging.Logger
	dec *hybrid.Decryptor

	groups map[string]*Group
	order  []*Group
}

// New returns an Aggregator that decrypts with dec's symmetric KDF.
func New(dec *hybrid.Decryptor, logBackend *log.Backend) *Aggregator {
	return &Aggregator{
		log:    logBackend.GetLogger("aggregator"),
		dec:    dec,
		groups: make(map[string]*Group),
	}
}

// Fold adds rec to the group for its primary ciphertext, creating the group
// on first sight.
func (a *Aggregator) Fold(rec *artifact.EArtifact) error {
	g, ok := a.groups[rec.PrimaryCipherText]
	if !ok {
		g = newGroup(rec)
		if err := g.Fold(rec); err != nil {
			return err
		}
		a.groups[rec.PrimaryCipherText] = g
		a.order = append(a.order, g)
		return nil
	}
	return g.Fold(rec)
}

// Groups returns the groups in order of first sighting.
func (a *Aggregator) Groups() []*Group {
	return a.order
}

// Reconstruct recovers the cleartext of g.  It returns (nil, nil) when g
// lacks support.  Any decryption failure is returned as a CryptoError and
// the group should be dropped.
func (a *Aggregator) Reconstruct(g *Group) (*artifact.ReconstructedArtifact, error) {
	if !g.HasSupport() {
		return nil, nil
	}

	pass, err := interpolate.EvaluateAndRound(g.points, g.K, decimal.Zero)
	if err != nil {
		return nil, failure.Crypto("interpolate", err)
	}
	primary, err := a.dec.DecryptSymmetric(pass, g.PrimaryCipherText)
	if err != nil {
		return nil, err
	}

	out := &artifact.ReconstructedArtifact{
		PrimaryPrivateField:    primary,
		ExperimentID:           g.ExperimentID,
		NumberOfDistinctParts:  g.Support(),
		TotalInstances:         g.instances,
		SecondaryPrivateFields: make(map[string]int64, len(g.secondary)),
	}
	for _, ct := range g.order {
		pt, err := a.dec.DecryptSymmetric(pass, ct)
		if err != nil {
			return nil, err
		}
		out.SecondaryPrivateFields[pt] += g.secondary[ct]
	}
	return out, nil
}

// Suppressed buckets every unsupported group by its support level, in
// ascending order of support.
func (a *Aggregator) Suppressed() []*artifact.SuppressedStatistic {
	buckets := make(map[int]*artifact.SuppressedStatistic)
	for _, g := range a.order {
		if g.HasSupport() {
			continue
		}
		s, ok := buckets[g.Support()]
		if !ok {
			s = &artifact.SuppressedStatistic{Support: g.Support()}
			buckets[g.Support()] = s
		}
		s.Distinct++
		s.Instances += g.instances
	}

	out := make([]*artifact.SuppressedStatistic, 0, len(buckets))
	for _, s := range buckets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Support < out[j].Support })
	return out
}

// Summary totals a batch.
type Summary struct {
	Instances          int64
	Groups             int
	SupportedInstances int64
	SupportedGroups    int
	Reconstructed      int
	Failed             int
	SkippedLines       int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d instances in %d groups, %d instances in %d groups supported, %d reconstructed, %d failed, %d lines skipped",
		s.Instances, s.Groups, s.SupportedInstances, s.SupportedGroups, s.Reconstructed, s.Failed, s.SkippedLines)
}
