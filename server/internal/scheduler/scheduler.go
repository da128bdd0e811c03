// scheduler.go - Crowdlog relay flush scheduler.
// Copyright (C) 2025  The Crowdlog Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package scheduler periodically flushes the relay buffer to the router.
package scheduler

import (
	"context"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/worker"
	"github.com/katzenpost/crowdlog/server/internal/buffer"
	"github.com/katzenpost/crowdlog/server/internal/glue"
	"github.com/katzenpost/crowdlog/server/internal/instrument"
)

type scheduler struct {
	worker.Worker
	sync.Mutex

	glue glue.Glue
	log  *logging.Logger

	interval        time.Duration
	shutdownTimeout time.Duration
}

// Halt stops the flush worker after a final flush.
func (sch *scheduler) Halt() {
	sch.Worker.Halt()
}

// Flush swaps out the buffer and routes its entries.  If routing fails the
// entries are returned to the buffer.
func (sch *scheduler) Flush(ctx context.Context) error {
	sch.Lock()
	defer sch.Unlock()

	buf := sch.glue.Buffer()
	entries := buf.Swap()
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	if err := sch.glue.Router().RouteAll(ctx, buffer.Lines(entries)); err != nil {
		buf.Restore(entries)
		instrument.FlushFailed()
		sch.log.Warningf("Flush of %d entries failed, returned to the buffer: %v", len(entries), err)
		return err
	}
	if err := buf.Commit(entries); err != nil {
		// They were delivered, a restart will deliver them again.
		sch.log.Errorf("Failed to commit %d delivered entries: %v", len(entries), err)
	}
	instrument.EntriesFlushed(len(entries))
	sch.log.Debugf("Flushed %d entries (Elapsed: %v).", len(entries), time.Since(start))
	return nil
}

func (sch *scheduler) worker() {
	ctx, cancel := sch.HaltContext()
	defer cancel()

	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()

	// After a failed flush the size trigger is ignored until the next
	// tick, so an unreachable destination is retried once per interval.
	buf := sch.glue.Buffer()
	fullCh := buf.FullCh()
	for {
		select {
		case <-sch.HaltCh():
			sch.log.Debugf("Terminating gracefully.")
			sch.finalFlush()
			return
		case <-ticker.C:
			fullCh = buf.FullCh()
		case <-fullCh:
			sch.log.Debugf("Buffer full, flushing early.")
		}

		instrument.BufferSize(buf.Len())
		if err := sch.Flush(ctx); err != nil {
			fullCh = nil
		}
	}
}

func (sch *scheduler) finalFlush() {
	n := sch.glue.Buffer().Len()
	if n == 0 {
		return
	}
	sch.log.Noticef("Flushing %d entries before shutdown.", n)

	ctx, cancel := context.WithTimeout(context.Background(), sch.shutdownTimeout)
	defer cancel()
	if err := sch.Flush(ctx); err != nil {
		sch.log.Errorf("Final flush failed, %d entries left undelivered: %v", sch.glue.Buffer().Len(), err)
	}
}

// New constructs a new scheduler instance and starts its worker.
func New(glue glue.Glue) glue.Scheduler {
	cfg := glue.Config()
	sch := &scheduler{
		glue:            glue,
		log:             glue.LogBackend().GetLogger("scheduler"),
		interval:        time.Duration(cfg.Relay.FlushInterval) * time.Millisecond,
		shutdownTimeout: time.Duration(cfg.Debug.ShutdownFlushTimeout) * time.Millisecond,
	}
	sch.log.Noticef("Flushing every %v or at %d entries.", sch.interval, cfg.Relay.FullBufferSize)

	sch.Go(sch.worker)
	return sch
}
