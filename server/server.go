// server.go - Crowdlog relay.
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

// Package server provides the Crowdlog relay and origin.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/core/utils"
	"github.com/katzenpost/crowdlog/server/config"
	"github.com/katzenpost/crowdlog/server/internal/buffer"
	"github.com/katzenpost/crowdlog/server/internal/depot"
	"github.com/katzenpost/crowdlog/server/internal/glue"
	"github.com/katzenpost/crowdlog/server/internal/incoming"
	"github.com/katzenpost/crowdlog/server/internal/instrument"
	"github.com/katzenpost/crowdlog/server/internal/profiling"
	"github.com/katzenpost/crowdlog/server/internal/router"
	"github.com/katzenpost/crowdlog/server/internal/scheduler"
	"github.com/katzenpost/crowdlog/sink"
)

const httpShutdownTimeout = 5 * time.Second

// Server is a Crowdlog relay, or the origin, instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	buffer    *buffer.State
	router    *router.Router
	scheduler glue.Scheduler
	depot     glue.Depot

	listener net.Listener
	http     *http.Server
	metrics  *http.Server

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config {
	return g.s.cfg
}

func (g *serverGlue) LogBackend() *log.Backend {
	return g.s.logBackend
}

func (g *serverGlue) Buffer() glue.Buffer {
	return g.s.buffer
}

func (g *serverGlue) Router() glue.Router {
	return g.s.router
}

func (g *serverGlue) Scheduler() glue.Scheduler {
	return g.s.scheduler
}

func (g *serverGlue) Depot() glue.Depot {
	return g.s.depot
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Relay.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

func (s *Server) initRelay(goo glue.Glue) error {
	var (
		journal buffer.Journal
		err     error
	)
	switch s.cfg.Relay.Journal {
	case config.JournalMemory:
		s.log.Warningf("Accepted entries are held in memory only.")
		journal = buffer.NewMemoryJournal()
	default:
		if journal, err = buffer.NewBoltJournal(s.cfg.Relay.DataDir, s.logBackend); err != nil {
			return err
		}
	}
	if s.buffer, err = buffer.New(journal, s.cfg.Relay.FullBufferSize, s.logBackend); err != nil {
		journal.Close()
		return err
	}

	sender := router.NewHTTPSender(time.Duration(s.cfg.Relay.SendTimeout) * time.Millisecond)
	s.router = router.New(goo, sender)
	s.scheduler = scheduler.New(goo)
	return nil
}

func (s *Server) initOrigin(goo glue.Glue) error {
	w, err := sink.NewRolling(s.cfg.Sink.OutputBase, s.cfg.Sink.MaxRecordsPerFile, s.logBackend)
	if err != nil {
		return err
	}
	if s.depot, err = depot.New(goo, w); err != nil {
		w.Close()
		return err
	}
	s.log.Noticef("Writing entries to '%s.*'.", s.cfg.Sink.OutputBase)
	return nil
}

// Addr returns the address the HTTP listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// RotateLog rotates the log file, if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatalErrCh <- err
	}
	s.log.Notice("Log rotated.")
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	s.log.Noticef("Starting graceful shutdown.")

	// Stop accepting entries before the final flush.
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warningf("HTTP shutdown: %v", err)
		}
		cancel()
		s.http = nil
	}

	if s.scheduler != nil {
		s.scheduler.Halt()
		s.scheduler = nil
	}
	if s.buffer != nil {
		if err := s.buffer.Close(); err != nil {
			s.log.Errorf("Failed to close the journal: %v", err)
		}
		s.buffer = nil
	}
	if s.depot != nil {
		s.depot.Halt()
		s.depot = nil
	}

	if s.metrics != nil {
		s.metrics.Close()
		s.metrics = nil
	}

	close(s.fatalErrCh)

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error),
		haltedCh:   make(chan interface{}),
	}
	goo := &serverGlue{s}

	// Do the early initialization and bring up logging.
	if err := utils.MkdirPrivate(s.cfg.Relay.DataDir); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	s.log.Noticef("Relay identifier is: '%v'", s.cfg.Relay.Identifier)
	if s.cfg.Relay.IsOrigin {
		s.log.Noticef("Running as the origin.")
	} else {
		s.log.Noticef("Forwarding to the origin '%v' with probability %v, %d peers.",
			s.cfg.Relay.Origin, *s.cfg.Relay.ForwardProbability, len(s.cfg.Relay.Peers))
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			// Graceful termination.
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	if s.cfg.Metrics.Address != "" {
		s.metrics = instrument.StartPrometheusListener(s.cfg.Metrics.Address, s.logBackend.GetLogger("metrics"))
	}
	if s.cfg.Debug.EnableProfiling {
		if err := profiling.Start(s.logBackend.GetLogger("profiling"), s.cfg.Relay.Identifier); err != nil {
			s.log.Errorf("Failed to start profiling: %v", err)
			return nil, err
		}
	}

	var err error
	if s.cfg.Relay.IsOrigin {
		err = s.initOrigin(goo)
	} else {
		err = s.initRelay(goo)
	}
	if err != nil {
		s.log.Errorf("Failed to initialize: %v", err)
		return nil, err
	}

	// Bring the listener online.
	if s.listener, err = net.Listen("tcp", s.cfg.Relay.Address); err != nil {
		s.log.Errorf("Failed to listen on %v: %v", s.cfg.Relay.Address, err)
		return nil, err
	}
	s.http = &http.Server{
		Handler:           incoming.New(goo),
		ErrorLog:          s.logBackend.GetGoLogger("incoming/http", "warning"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fatalErrCh <- err
		}
	}(s.http, s.listener)
	s.log.Noticef("Listening on: %v", s.listener.Addr())

	isOk = true
	return s, nil
}
