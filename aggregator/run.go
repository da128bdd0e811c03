// SPDX-FileCopyrightText: Copyright (C) 2025  The Crowdlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package aggregator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/katzenpost/crowdlog/artifact"
)

// MaxLineSize is the longest input line the batch driver accepts.
const MaxLineSize = 16 * 1024 * 1024

// Run folds every e-artifact in the named files, then writes one line per
// reconstructed artifact followed by the suppressed statistics to out.
//
// A file that cannot be read is skipped and its error is included in the
// returned error, the rest of the batch still completes.  A write to out
// failing aborts the batch.
func (a *Aggregator) Run(inputs []string, out io.Writer) (*Summary, error) {
	var result error
	s := new(Summary)
	for _, fn := range inputs {
		if err := a.foldFile(fn, s); err != nil {
			a.log.Errorf("Skipping '%s': %v", fn, err)
			result = multierror.Append(result, err)
		}
	}
	if err := a.emit(out, s); err != nil {
		return s, multierror.Append(result, err)
	}
	return s, result
}

// RunReaders is Run over already opened streams.
func (a *Aggregator) RunReaders(inputs []io.Reader, out io.Writer) (*Summary, error) {
	var result error
	s := new(Summary)
	for i, r := range inputs {
		name := fmt.Sprintf("input #%d", i)
		if err := a.foldReader(name, r, s); err != nil {
			a.log.Errorf("Skipping %s: %v", name, err)
			result = multierror.Append(result, err)
		}
	}
	if err := a.emit(out, s); err != nil {
		return s, multierror.Append(result, err)
	}
	return s, result
}

func (a *Aggregator) foldFile(fn string, s *Summary) error {
	f, err := os.Open(fn)
	if err != nil {
		return fmt.Errorf("aggregator: failed to open input: %w", err)
	}
	defer f.Close()
	return a.foldReader(fn, f, s)
}

func (a *Aggregator) foldReader(name string, r io.Reader, s *Summary) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := artifact.ParseEArtifact(line)
		if err == nil {
			err = a.Fold(rec)
		}
		if err != nil {
			a.log.Warningf("%s:%d: skipping malformed record: %v", name, lineNo, err)
			s.SkippedLines++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("aggregator: %s: %w", name, err)
	}
	a.log.Debugf("Folded %d lines from %s", lineNo, name)
	return nil
}

func (a *Aggregator) emit(out io.Writer, s *Summary) error {
	w := bufio.NewWriter(out)
	writeLine := func(v interface{}) error {
		b, err := artifact.MarshalLine(v)
		if err != nil {
			return err
		}
		if _, err = w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("aggregator: failed to write output: %w", err)
		}
		return nil
	}

	for _, g := range a.order {
		s.Groups++
		s.Instances += g.instances
		if !g.HasSupport() {
			continue
		}
		s.SupportedGroups++
		s.SupportedInstances += g.instances

		rec, err := a.Reconstruct(g)
		if err != nil {
			a.log.Errorf("Dropping group for experiment '%s' with support %d: %v", g.ExperimentID, g.Support(), err)
			s.Failed++
			continue
		}
		if err = writeLine(rec); err != nil {
			return err
		}
		s.Reconstructed++
	}
	for _, st := range a.Suppressed() {
		if err := writeLine(st); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("aggregator: failed to write output: %w", err)
	}

	a.log.Noticef("Batch complete: %v", s)
	return nil
}
