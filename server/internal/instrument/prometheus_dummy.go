//go:build noprometheus
// +build noprometheus

package instrument

import (
	"net/http"

	"gopkg.in/op/go-logging.v1"
)

// Init does nothing
func Init() {}

// StartPrometheusListener does nothing
func StartPrometheusListener(address string, log *logging.Logger) *http.Server {
	log.Notice("Metrics are disabled")
	return nil
}

// EntriesAccepted does nothing
func EntriesAccepted(n int) {}

// EntriesFlushed does nothing
func EntriesFlushed(n int) {}

// FlushFailed does nothing
func FlushFailed() {}

// BundleSent does nothing
func BundleSent(destination string) {}

// SendFailed does nothing
func SendFailed(destination string) {}

// BufferSize does nothing
func BufferSize(n int) {}

// DuplicatesDropped does nothing
func DuplicatesDropped(n int) {}

// RecordsWritten does nothing
func RecordsWritten(n int) {}
