//go:build !pyroscope
// +build !pyroscope

// Package profiling starts continuous profiling of the relay.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start logs that profiling was not compiled in.
func Start(log *logging.Logger, identifier string) error {
	log.Infof("Pyroscope is disabled, not profiling %s", identifier)
	return nil
}
