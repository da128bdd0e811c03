// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package buffer holds the entries a relay has accepted but not yet
// delivered.
package buffer

import (
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/log"
)

// Entry is a single accepted line.  ID is the journal key, or zero if the
// entry was never journaled.
type Entry struct {
	ID   uint64
	Line string
}

// Lines returns the lines of entries.
func Lines(entries []Entry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line
	}
	return lines
}

// State is the relay buffer.  It is safe for concurrent use.
type State struct {
	sync.Mutex

	log     *logging.Logger
	journal Journal

	entries  []Entry
	fullSize int
	fullCh   chan struct{}
}

// New returns a buffer backed by journal, reloading any entries the
// journal still holds.  FullCh is signalled whenever the buffer holds at
// least fullSize entries.
func New(journal Journal, fullSize int, logBackend *log.Backend) (*State, error) {
	s := &State{
		log:      logBackend.GetLogger("buffer"),
		journal:  journal,
		fullSize: fullSize,
		fullCh:   make(chan struct{}, 1),
	}

	entries, err := journal.Load()
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		s.log.Noticef("Recovered %d undelivered entries from the journal.", len(entries))
		s.entries = entries
		s.checkFull()
	}
	return s, nil
}

// Submit splits blob on newlines and appends every non-empty line.  It
// returns the number of lines accepted.
func (s *State) Submit(blob string) int {
	var lines []string
	for _, l := range strings.Split(blob, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return 0
	}

	ids, err := s.journal.Append(lines)
	if err != nil {
		// The entries are still delivered unless the relay restarts
		// before the next successful flush.
		s.log.Errorf("Failed to journal %d entries: %v", len(lines), err)
		ids = make([]uint64, len(lines))
	}

	s.Lock()
	defer s.Unlock()

	for i, l := range lines {
		s.entries = append(s.entries, Entry{ID: ids[i], Line: l})
	}
	s.checkFull()
	return len(lines)
}

// Swap atomically takes the buffer contents, leaving it empty.
func (s *State) Swap() []Entry {
	s.Lock()
	defer s.Unlock()

	entries := s.entries
	s.entries = nil
	return entries
}

// Restore puts entries taken by a failed Swap back, ahead of anything
// submitted since.  It does not signal FullCh.
func (s *State) Restore(entries []Entry) {
	if len(entries) == 0 {
		return
	}

	s.Lock()
	defer s.Unlock()

	merged := make([]Entry, 0, len(entries)+len(s.entries))
	merged = append(merged, entries...)
	s.entries = append(merged, s.entries...)
}

// Commit drops delivered entries from the journal.
func (s *State) Commit(entries []Entry) error {
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.ID != 0 {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.journal.Remove(ids)
}

// Len returns the number of entries held.
func (s *State) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.entries)
}

// FullCh returns the channel signalled when the buffer reaches the full
// size.  Signals are coalesced.
func (s *State) FullCh() <-chan struct{} {
	return s.fullCh
}

// Close closes the journal.
func (s *State) Close() error {
	return s.journal.Close()
}

func (s *State) checkFull() {
	if len(s.entries) < s.fullSize {
		return
	}
	select {
	case s.fullCh <- struct{}{}:
	default:
	}
}
