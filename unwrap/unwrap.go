// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package unwrap removes the transport encryption from the raw files the
// origin relay writes, producing partitioned e-artifact files for the
// aggregator.
package unwrap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/artifact"
	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/hybrid"
	"github.com/katzenpost/crowdlog/sink"
)

// MaxLineSize is the longest input line accepted.
const MaxLineSize = 16 * 1024 * 1024

// Summary counts the lines of a run.
type Summary struct {
	Read      int
	Unwrapped int
	Skipped   int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d lines read, %d unwrapped, %d skipped", s.Read, s.Unwrapped, s.Skipped)
}

type unwrapper struct {
	log *logging.Logger
	dec *hybrid.Decryptor
	w   *sink.Partitioned
	s   *Summary
}

// Run unwraps every ee-artifact line of the named files into w.  Lines that
// fail to parse or decrypt are logged and skipped.  Files that cannot be
// read are skipped and reported in the returned error.  A failing write to
// w aborts the run.
func Run(dec *hybrid.Decryptor, inputs []string, w *sink.Partitioned, logBackend *log.Backend) (*Summary, error) {
	u := &unwrapper{
		log: logBackend.GetLogger("unwrap"),
		dec: dec,
		w:   w,
		s:   new(Summary),
	}

	var result error
	for _, fn := range inputs {
		f, err := os.Open(fn)
		if err != nil {
			u.log.Errorf("Skipping '%s': %v", fn, err)
			result = multierror.Append(result, fmt.Errorf("unwrap: %w", err))
			continue
		}
		err = u.unwrapReader(fn, f)
		f.Close()
		if err == nil {
			continue
		}
		var werr *writeError
		if errors.As(err, &werr) {
			return u.s, multierror.Append(result, err)
		}
		u.log.Errorf("Skipping rest of '%s': %v", fn, err)
		result = multierror.Append(result, err)
	}

	u.log.Noticef("Unwrap complete: %v", u.s)
	return u.s, result
}

type writeError struct {
	err error
}

func (e *writeError) Error() string { return fmt.Sprintf("unwrap: failed to write: %v", e.err) }

func (e *writeError) Unwrap() error { return e.err }

func (u *unwrapper) unwrapReader(name string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		u.s.Read++

		pt, err := u.dec.DecryptEEArtifact(line)
		if err != nil {
			u.log.Warningf("%s:%d: %v", name, lineNo, err)
			u.s.Skipped++
			continue
		}
		rec, err := artifact.ParseEArtifact(pt)
		if err != nil {
			u.log.Warningf("%s:%d: %v", name, lineNo, err)
			u.s.Skipped++
			continue
		}
		if err = u.w.Write(rec, pt); err != nil {
			return &writeError{err}
		}
		u.s.Unwrapped++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unwrap: %s: %w", name, err)
	}
	return nil
}
