// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/failure"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/core/utils"
)

const (
	// DefaultMaxOpenFiles is the default cap on open partition files.
	DefaultMaxOpenFiles = 25

	// PartitionSuffix is the extension of partition files.
	PartitionSuffix = ".eartifacts"

	// charIDIndex selects the ciphertext character that spreads one
	// experiment over several partitions.
	charIDIndex = 35
	noCharID    = "zz"
)

// Partitioned appends e-artifact lines to one file per experiment and
// ciphertext character, keeping at most MaxOpenFiles files open with the
// least recently used one closed first.
type Partitioned struct {
	sync.Mutex

	log  *logging.Logger
	dir  string
	open *simplelru.LRU

	closed bool
}

// NewPartitioned returns a Partitioned sink writing into dir.
func NewPartitioned(dir string, maxOpenFiles int, logBackend *log.Backend) (*Partitioned, error) {
	if maxOpenFiles <= 0 {
		return nil, failure.Capacity("sink", fmt.Errorf("MaxOpenFiles must be positive, got %d", maxOpenFiles))
	}
	if err := utils.MkdirPrivate(dir); err != nil {
		return nil, fmt.Errorf("sink: failed to create output directory: %w", err)
	}

	p := &Partitioned{
		log: logBackend.GetLogger("sink/partitioned"),
		dir: dir,
	}
	lru, err := simplelru.NewLRU(maxOpenFiles, p.onEvict)
	if err != nil {
		return nil, err
	}
	p.open = lru
	return p, nil
}

func (p *Partitioned) onEvict(key interface{}, value interface{}) {
	f := value.(*os.File)
	p.log.Debugf("Closing '%s'", key)
	if err := f.Close(); err != nil {
		p.log.Warningf("Failed to close '%s': %v", key, err)
	}
}

// Write appends raw, the line rec was parsed from, to rec's partition.
func (p *Partitioned) Write(rec *artifact.EArtifact, raw string) error {
	p.Lock()
	defer p.Unlock()

	if p.closed {
		return errClosed
	}

	name := PartitionName(rec)
	v, ok := p.open.Get(name)
	if !ok {
		fn := filepath.Join(p.dir, name)
		f, err := os.OpenFile(fn, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
		if err != nil {
			return fmt.Errorf("sink: failed to open '%s': %w", fn, err)
		}
		p.open.Add(name, f)
		v = f
	}
	_, err := v.(*os.File).WriteString(strings.TrimSpace(raw) + "\n")
	return err
}

// Len returns the number of files currently open.
func (p *Partitioned) Len() int {
	p.Lock()
	defer p.Unlock()

	return p.open.Len()
}

// Close closes every open file.
func (p *Partitioned) Close() error {
	p.Lock()
	defer p.Unlock()

	p.closed = true
	p.open.Purge()
	return nil
}

// PartitionName returns the file name rec is written to:
// `<experiment>-<char><suffix>`, where experiment is the NFC normalized
// experiment id with every non word character replaced by '_', and char
// is a single character of the primary ciphertext, or "zz" if that is not
// a word character.
func PartitionName(rec *artifact.EArtifact) string {
	exp := strings.Map(func(r rune) rune {
		if isWord(r) {
			return r
		}
		return '_'
	}, norm.NFC.String(rec.ExperimentID))

	charID := noCharID
	if ct := rec.PrimaryCipherText; len(ct) > charIDIndex && isWord(rune(ct[charIDIndex])) {
		charID = ct[charIDIndex : charIDIndex+1]
	}
	return exp + "-" + charID + PartitionSuffix
}

func isWord(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
