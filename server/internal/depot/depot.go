// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package depot stores the bundles that reach the origin.
package depot

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/server/internal/glue"
	"github.com/katzenpost/crowdlog/server/internal/instrument"
)

const (
	// SeenDBPath is the file name, inside the DataDir, of the set of
	// lines already written.
	SeenDBPath = "seen.db"

	seenBucket = "seen"

	// falsePositiveRate is the target rate at which the filter sends a new
	// line to the seen set lookup once it holds its maximum number of
	// entries.
	falsePositiveRate = 0.001
)

var (
	errHalted        = errors.New("depot: halted")
	errNoSink        = errors.New("depot: no Sink configured")
	errMissingBucket = errors.New("depot: seen bucket is missing")
)

// LineWriter is the sink a Depot appends to.
type LineWriter interface {
	Write(lines []string) error
	Close() error
}

type depot struct {
	sync.Mutex

	log *logging.Logger
	w   LineWriter

	// db is the exact set of written lines, keyed by digest.  f only
	// answers "definitely new", which lets most lines skip the lookup.
	db *bolt.DB
	f  *bloom.Filter
}

func seenKey(l string) []byte {
	k := blake2b.Sum256([]byte(l))
	return k[:]
}

// Write drops every line already seen and appends the rest to the sink,
// returning the number of lines written.
func (d *depot) Write(lines []string) (int, error) {
	d.Lock()
	defer d.Unlock()

	if d.w == nil {
		return 0, errHalted
	}

	candidates := make([]string, 0, len(lines))
	seen := make(map[string]bool)
	dups := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if d.db != nil {
			if seen[l] {
				dups++
				continue
			}
			seen[l] = true
		}
		candidates = append(candidates, l)
	}
	fresh, err := d.unseen(candidates)
	if err != nil {
		return 0, err
	}
	if dups += len(candidates) - len(fresh); dups > 0 {
		d.log.Debugf("Dropped %d duplicate lines.", dups)
		instrument.DuplicatesDropped(dups)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	// Lines are only marked as seen once they are on disk, so a failed
	// write can be retried by the sender.
	if err := d.w.Write(fresh); err != nil {
		return 0, err
	}
	if err := d.markSeen(fresh); err != nil {
		// Written, at worst a retry writes them again.
		d.log.Errorf("Failed to record %d written lines: %v", len(fresh), err)
	}
	instrument.RecordsWritten(len(fresh))
	return len(fresh), nil
}

func (d *depot) unseen(lines []string) ([]string, error) {
	if d.db == nil || len(lines) == 0 {
		return lines, nil
	}

	fresh := make([]string, 0, len(lines))
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(seenBucket))
		if bkt == nil {
			return errMissingBucket
		}
		for _, l := range lines {
			k := seenKey(l)
			if d.f.Test(k) && bkt.Get(k) != nil {
				continue
			}
			fresh = append(fresh, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (d *depot) markSeen(lines []string) error {
	if d.db == nil {
		return nil
	}

	start := time.Now()
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(seenBucket))
		if bkt == nil {
			return errMissingBucket
		}
		for _, l := range lines {
			if err := bkt.Put(seenKey(l), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, l := range lines {
		d.f.TestAndSet(seenKey(l))
	}
	d.log.Debugf("Recorded %d lines (Elapsed: %v).", len(lines), time.Since(start))
	return nil
}

// Halt closes the underlying sink and the seen set.
func (d *depot) Halt() {
	d.Lock()
	defer d.Unlock()

	if d.w == nil {
		return
	}
	if err := d.w.Close(); err != nil {
		d.log.Errorf("Failed to close sink: %v", err)
	}
	d.w = nil
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Errorf("Failed to close the seen set: %v", err)
		}
		d.db = nil
	}
}

func (d *depot) openSeen(dataDir string, filterBits int) error {
	f := filepath.Join(dataDir, SeenDBPath)
	db, err := bolt.Open(f, 0600, &bolt.Options{
		Timeout:        time.Second,
		NoFreelistSync: true,
	})
	if err != nil {
		return fmt.Errorf("depot: failed to open the seen set: %w", err)
	}

	if d.f, err = bloom.New(rand.Reader, filterBits, falsePositiveRate); err != nil {
		db.Close()
		return err
	}

	// Warm the filter from the lines written before a restart.
	n := 0
	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(seenBucket))
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, _ []byte) error {
			d.f.TestAndSet(k)
			n++
			return nil
		})
	}); err != nil {
		db.Close()
		return err
	}
	d.db = db
	d.log.Noticef("Seen set holds %d lines, filter sized for %d.", n, d.f.MaxEntries())
	return nil
}

// New returns a depot writing to w.  Unless the relay is configured with
// DisableDedup, lines already written are dropped, checked against a set
// of line digests kept in the DataDir.
func New(glue glue.Glue, w LineWriter) (glue.Depot, error) {
	cfg := glue.Config()
	if cfg.Sink == nil {
		return nil, errNoSink
	}
	d := &depot{
		log: glue.LogBackend().GetLogger("depot"),
		w:   w,
	}
	if cfg.Sink.DisableDedup {
		d.log.Warningf("Duplicate filtering disabled.")
		return d, nil
	}
	if err := d.openSeen(cfg.Relay.DataDir, cfg.Sink.DedupFilterBits); err != nil {
		return nil, err
	}
	return d, nil
}
