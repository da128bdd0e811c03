// listener.go - Crowdlog relay HTTP ingestion.
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

// Package incoming implements the HTTP endpoints clients and peer relays
// submit entries to.
package incoming

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/server/internal/glue"
	"github.com/katzenpost/crowdlog/server/internal/instrument"
)

const (
	// FormField is the form field entries are submitted in.
	FormField = "eartifacts"

	// MaxBodySize is the largest request body accepted.
	MaxBodySize = 16 * 1024 * 1024
)

type listener struct {
	glue glue.Glue
	log  *logging.Logger
}

func (l *listener) onSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer r.Body.Close()

	blob, err := readEntries(r)
	if err != nil {
		l.log.Debugf("Rejecting request from %v: %v", r.RemoteAddr, err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var n int
	if l.glue.Config().Relay.IsOrigin {
		if n, err = l.glue.Depot().Write(strings.Split(blob, "\n")); err != nil {
			l.log.Errorf("Failed to store entries: %v", err)
			http.Error(w, "storage failure", http.StatusInternalServerError)
			return
		}
	} else {
		n = l.glue.Buffer().Submit(blob)
	}
	instrument.EntriesAccepted(n)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, strconv.Itoa(n))
}

func (l *listener) onHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

// readEntries returns the form field if present, and the raw body
// otherwise.
func readEntries(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		if v, ok := r.PostForm[FormField]; ok {
			return strings.Join(v, "\n"), nil
		}
		return "", fmt.Errorf("incoming: missing form field '%s'", FormField)
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// New returns the relay's HTTP handler.
func New(glue glue.Glue) http.Handler {
	l := &listener{
		glue: glue,
		log:  glue.LogBackend().GetLogger("incoming"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  glue.LogBackend().GetGoLogger("incoming/http", "debug"),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Post("/", l.onSubmit)
	r.Post("/"+FormField, l.onSubmit)
	r.Get("/healthz", l.onHealthz)
	return r
}
