//go:build !noprometheus
// +build !noprometheus

// Package instrument exports relay metrics to prometheus.
package instrument

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	entriesAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdlog_entries_accepted_total",
			Help: "Number of entries accepted from clients and peers",
		},
	)
	entriesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdlog_entries_flushed_total",
			Help: "Number of entries delivered by a flush",
		},
	)
	flushesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdlog_flushes_failed_total",
			Help: "Number of flushes whose entries were returned to the buffer",
		},
	)
	bundlesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdlog_bundles_sent_total",
			Help: "Number of bundles delivered, by destination kind",
		},
		[]string{"destination"},
	)
	sendsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdlog_sends_failed_total",
			Help: "Number of failed bundle deliveries, by destination kind",
		},
		[]string{"destination"},
	)
	bufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crowdlog_buffer_size",
			Help: "Number of entries waiting for the next flush",
		},
	)
	duplicatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdlog_origin_duplicates_dropped_total",
			Help: "Number of entries the origin dropped as already written",
		},
	)
	recordsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crowdlog_origin_records_written_total",
			Help: "Number of entries the origin wrote to disk",
		},
	)

	registerOnce sync.Once
)

// Init registers the metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(entriesAccepted)
		prometheus.MustRegister(entriesFlushed)
		prometheus.MustRegister(flushesFailed)
		prometheus.MustRegister(bundlesSent)
		prometheus.MustRegister(sendsFailed)
		prometheus.MustRegister(bufferSize)
		prometheus.MustRegister(duplicatesDropped)
		prometheus.MustRegister(recordsWritten)
	})
}

// StartPrometheusListener serves /metrics on address until the returned
// server is shut down.
func StartPrometheusListener(address string, log *logging.Logger) *http.Server {
	Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Noticef("Serving metrics on %v.", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics listener failed: %v", err)
		}
	}()
	return srv
}

// EntriesAccepted increments the counter of accepted entries.
func EntriesAccepted(n int) {
	entriesAccepted.Add(float64(n))
}

// EntriesFlushed increments the counter of delivered entries.
func EntriesFlushed(n int) {
	entriesFlushed.Add(float64(n))
}

// FlushFailed increments the counter of failed flushes.
func FlushFailed() {
	flushesFailed.Inc()
}

// BundleSent increments the delivered bundle counter for destination.
func BundleSent(destination string) {
	bundlesSent.With(prometheus.Labels{"destination": destination}).Inc()
}

// SendFailed increments the failed delivery counter for destination.
func SendFailed(destination string) {
	sendsFailed.With(prometheus.Labels{"destination": destination}).Inc()
}

// BufferSize sets the buffer length gauge.
func BufferSize(n int) {
	bufferSize.Set(float64(n))
}

// DuplicatesDropped increments the origin duplicate counter.
func DuplicatesDropped(n int) {
	duplicatesDropped.Add(float64(n))
}

// RecordsWritten increments the origin output counter.
func RecordsWritten(n int) {
	recordsWritten.Add(float64(n))
}
