// main.go - Crowdlog relay binary.
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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/crowdlog/common"
	"github.com/katzenpost/crowdlog/server"
	"github.com/katzenpost/crowdlog/server/config"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Crowdlog relay and origin",
		Long: `A relay accepts encrypted telemetry entries over HTTP, holds them in a
buffer, and periodically sends them on in shuffled bundles, either to a
randomly chosen peer relay or to the origin.

With Relay.IsOrigin set, the process is the origin instead: bundles are
written to date stamped output files for the unwrap and decrypt tools.`,
		Example: `  # Run a relay
  relay -f /etc/crowdlog/relay.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "relay.toml",
		"path to the relay configuration file (TOML format)")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runRelay(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	svr, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to spawn relay instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the relay gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	svr.Wait()
	return nil
}
