//go:build pyroscope
// +build pyroscope

// Package profiling starts continuous profiling of the relay.
package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start initializes Pyroscope profiling.  The server address comes from
// PYROSCOPE_SERVER_ADDRESS, the relay identifier is used as the service
// tag.
func Start(log *logging.Logger, identifier string) error {
	log.Info("Starting Pyroscope")

	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "crowdlog.relay"
	}

	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": identifier,
		},
	})
	if err != nil {
		return err
	}
	log.Infof("Pyroscope started at %s, app name: %s, service tag: %s", serverAddress, appName, identifier)
	return nil
}
