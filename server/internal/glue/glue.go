// glue.go - Crowdlog relay internal glue.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"context"

	"github.com/katzenpost/crowdlog/core/log"
	"github.com/katzenpost/crowdlog/server/config"
	"github.com/katzenpost/crowdlog/server/internal/buffer"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	Buffer() Buffer
	Router() Router
	Scheduler() Scheduler

	// Depot is only set on the origin.
	Depot() Depot
}

type Buffer interface {
	Submit(string) int
	Swap() []buffer.Entry
	Restore([]buffer.Entry)
	Commit([]buffer.Entry) error
	Len() int
	FullCh() <-chan struct{}
}

type Router interface {
	RouteAll(context.Context, []string) error
}

type Scheduler interface {
	Halt()
	Flush(context.Context) error
}

type Depot interface {
	Halt()
	Write([]string) (int, error)
}
