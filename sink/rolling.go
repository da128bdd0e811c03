// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sink writes records to disk, either to a date stamped series of
// capped files or to a set of files partitioned by record content.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/failure"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/core/utils"
)

const (
	// DateLayout is the date stamp in rolled file names, eg: 07-Mar-2025.
	DateLayout = "02-Jan-2006"

	// DefaultMaxRecordsPerFile is the number of lines written to a file
	// before the next one is started.
	DefaultMaxRecordsPerFile = 10000

	maxSequence = 999
	fileMode    = 0600
)

var errClosed = errors.New("sink: closed")

// Rolling appends lines to `<base>.<dd-Mon-yyyy>.NNN`, starting a new file
// every MaxRecordsPerFile lines and whenever the date changes.  Numbering
// starts at 001 each day.  Files that already exist are never reopened, so
// a restarted process continues the numbering.
type Rolling struct {
	sync.Mutex

	log        *logging.Logger
	base       string
	maxRecords int
	now        func() time.Time

	f      *os.File
	date   string
	count  int
	closed bool
}

// RollingOption configures a Rolling sink.
type RollingOption func(*Rolling)

// WithClock overrides the clock the date stamp is taken from.
func WithClock(now func() time.Time) RollingOption {
	return func(r *Rolling) {
		r.now = now
	}
}

// NewRolling returns a Rolling sink writing next to base.  The first file
// is created lazily on the first Write.
func NewRolling(base string, maxRecords int, logBackend *log.Backend, opts ...RollingOption) (*Rolling, error) {
	if maxRecords <= 0 {
		return nil, failure.Capacity("sink", fmt.Errorf("MaxRecordsPerFile must be positive, got %d", maxRecords))
	}
	if err := utils.MkdirPrivate(filepath.Dir(base)); err != nil {
		return nil, fmt.Errorf("sink: failed to create output directory: %w", err)
	}
	r := &Rolling{
		log:        logBackend.GetLogger("sink/rolling"),
		base:       base,
		maxRecords: maxRecords,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Name returns the path of the file currently being written, or the empty
// string if none is open.
func (r *Rolling) Name() string {
	r.Lock()
	defer r.Unlock()

	if r.f == nil {
		return ""
	}
	return r.f.Name()
}

// Write appends every non-empty line, trimmed, rolling over to a new file
// as required.
func (r *Rolling) Write(lines []string) error {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return errClosed
	}

	var sb strings.Builder
	flush := func() error {
		if sb.Len() == 0 {
			return nil
		}
		_, err := r.f.WriteString(sb.String())
		sb.Reset()
		return err
	}

	date := r.now().Format(DateLayout)
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if r.f == nil || r.count >= r.maxRecords || r.date != date {
			if err := flush(); err != nil {
				return err
			}
			if err := r.roll(date); err != nil {
				return err
			}
		}
		sb.WriteString(l)
		sb.WriteByte('\n')
		r.count++
	}
	return flush()
}

func (r *Rolling) roll(date string) error {
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			r.log.Warningf("Failed to close '%s': %v", r.f.Name(), err)
		}
		r.f = nil
	}

	for seq := 1; seq <= maxSequence; seq++ {
		fn := fmt.Sprintf("%s.%s.%03d", r.base, date, seq)
		exists, err := utils.Exists(fn)
		if err != nil {
			return fmt.Errorf("sink: %w", err)
		}
		if exists {
			continue
		}
		f, err := os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err != nil {
			return fmt.Errorf("sink: failed to create '%s': %w", fn, err)
		}
		r.log.Debugf("Writing to '%s'", fn)
		r.f = f
		r.date = date
		r.count = 0
		return nil
	}
	return failure.Capacity("sink", fmt.Errorf("all %d files for %s in use", maxSequence, date))
}

// Close closes the current file.  Subsequent writes fail.
func (r *Rolling) Close() error {
	r.Lock()
	defer r.Unlock()

	r.closed = true
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
