// config.go - Crowdlog relay configuration.
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

// Package config provides the crowdlog relay configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"

	"github.com/katzenpost/crowdlog/core/failure"
)

const (
	defaultAddress              = ":8080"
	defaultLogLevel             = "NOTICE"
	defaultMaxBundleSize        = 100
	defaultFullBufferSize       = 2000
	defaultFlushInterval        = 1000 // 1 sec.
	defaultForwardProbability   = 0.4
	defaultSendTimeout          = 10 * 1000 // 10 sec.
	defaultMaxRecordsPerFile    = 10000
	defaultDedupFilterBits      = 27 // 16 MiB.
	defaultBreakerThreshold     = 3
	defaultBreakerCooldown      = 30 * 1000 // 30 sec.
	defaultRetryBaseDelay       = 100       // 100 ms.
	defaultRetryMaxDelay        = 10 * 1000 // 10 sec.
	defaultShutdownFlushTimeout = 5 * 1000  // 5 sec.
	defaultOutputDir            = "eeartifacts"
	defaultOutputName           = "eeartifacts"

	// JournalMemory keeps accepted entries in memory only.
	JournalMemory = "memory"

	// JournalBolt additionally records accepted entries in a BoltDB file
	// so that a restarted relay delivers them.
	JournalBolt = "bolt"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Relay is the relay configuration.
type Relay struct {
	// Identifier is the human readable identifier for the relay.
	Identifier string

	// Address is the host:port the HTTP ingestion endpoint binds to.
	Address string

	// DataDir is the absolute path to the relay's state files.
	DataDir string

	// IsOrigin specifies if the relay is the collection server, writing
	// what it receives to disk instead of forwarding it.
	IsOrigin bool

	// Origin is the URL of the collection server.
	Origin string

	// Peers are the URLs of the other relays.
	Peers []string

	// MaxBundleSize is the largest number of entries sent in one request.
	MaxBundleSize int

	// FullBufferSize is the buffer length that triggers an early flush.
	FullBufferSize int

	// FlushInterval is the time between flushes in milliseconds.
	FlushInterval int

	// ForwardProbability is the probability that a bundle is sent
	// straight to the origin instead of to a random peer.
	ForwardProbability *float64

	// SendTimeout is the per request timeout in milliseconds.
	SendTimeout int

	// Journal selects where accepted but undelivered entries are kept,
	// one of "memory" or "bolt".
	Journal string
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultAddress
	}
	if rCfg.MaxBundleSize == 0 {
		rCfg.MaxBundleSize = defaultMaxBundleSize
	}
	if rCfg.FullBufferSize == 0 {
		rCfg.FullBufferSize = defaultFullBufferSize
	}
	if rCfg.FlushInterval == 0 {
		rCfg.FlushInterval = defaultFlushInterval
	}
	if rCfg.ForwardProbability == nil {
		p := defaultForwardProbability
		rCfg.ForwardProbability = &p
	}
	if rCfg.SendTimeout <= 0 {
		rCfg.SendTimeout = defaultSendTimeout
	}
	if rCfg.Journal == "" {
		rCfg.Journal = JournalBolt
	}
}

func (rCfg *Relay) validate() error {
	if rCfg.Identifier == "" {
		return errors.New("config: Relay: Identifier is not set")
	}
	if _, err := precis.Nickname.String(rCfg.Identifier); err != nil {
		return fmt.Errorf("config: Relay: Identifier '%v' is invalid: %v", rCfg.Identifier, err)
	}
	if _, _, err := net.SplitHostPort(rCfg.Address); err != nil {
		return fmt.Errorf("config: Relay: Address '%v' is invalid: %v", rCfg.Address, err)
	}
	if !filepath.IsAbs(rCfg.DataDir) {
		return fmt.Errorf("config: Relay: DataDir '%v' is not an absolute path", rCfg.DataDir)
	}

	if !rCfg.IsOrigin && rCfg.Origin == "" {
		return errors.New("config: Relay: Origin is not set")
	}
	if rCfg.Origin != "" {
		u, err := normalizeURL(rCfg.Origin)
		if err != nil {
			return fmt.Errorf("config: Relay: Origin '%v' is invalid: %v", rCfg.Origin, err)
		}
		rCfg.Origin = u
	}
	seen := make(map[string]bool)
	for i, v := range rCfg.Peers {
		u, err := normalizeURL(v)
		if err != nil {
			return fmt.Errorf("config: Relay: Peer '%v' is invalid: %v", v, err)
		}
		if seen[u] {
			return fmt.Errorf("config: Relay: Peer '%v' is listed more than once", v)
		}
		seen[u] = true
		rCfg.Peers[i] = u
	}

	switch {
	case rCfg.MaxBundleSize <= 0:
		return failure.Capacity("config", fmt.Errorf("Relay: MaxBundleSize %d is not positive", rCfg.MaxBundleSize))
	case rCfg.FullBufferSize <= 0:
		return failure.Capacity("config", fmt.Errorf("Relay: FullBufferSize %d is not positive", rCfg.FullBufferSize))
	case rCfg.FlushInterval <= 0:
		return failure.Capacity("config", fmt.Errorf("Relay: FlushInterval %d is not positive", rCfg.FlushInterval))
	case *rCfg.ForwardProbability < 0 || *rCfg.ForwardProbability > 1:
		return failure.Capacity("config", fmt.Errorf("Relay: ForwardProbability %v is outside [0, 1]", *rCfg.ForwardProbability))
	}

	switch rCfg.Journal {
	case JournalMemory, JournalBolt:
	default:
		return fmt.Errorf("config: Relay: Journal '%v' is invalid", rCfg.Journal)
	}
	return nil
}

// normalizeURL requires an http(s) URL and converts its host to the ASCII
// form.
func normalizeURL(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("scheme '%v' is not http or https", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.New("missing host")
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return "", err
	}
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	return u.String(), nil
}

// Sink is the origin's output configuration.
type Sink struct {
	// OutputBase is the path prefix of the raw output files, which are
	// named `<OutputBase>.<dd-Mon-yyyy>.NNN`.  Relative paths are taken
	// relative to the DataDir.
	OutputBase string

	// MaxRecordsPerFile is the number of entries written to a file before
	// the next one is started.
	MaxRecordsPerFile int

	// DedupFilterBits is the base 2 log of the size in bits of the
	// in-memory filter that lets most new entries skip the lookup in the
	// on-disk set of entries already written.  It bounds memory, not
	// correctness.
	DedupFilterBits int

	// DisableDedup writes every entry received, and keeps no seen set.
	DisableDedup bool
}

func (sCfg *Sink) applyDefaults(rCfg *Relay) {
	if sCfg.OutputBase == "" {
		sCfg.OutputBase = filepath.Join(defaultOutputDir, defaultOutputName)
	}
	if !filepath.IsAbs(sCfg.OutputBase) {
		sCfg.OutputBase = filepath.Join(rCfg.DataDir, sCfg.OutputBase)
	}
	if sCfg.MaxRecordsPerFile == 0 {
		sCfg.MaxRecordsPerFile = defaultMaxRecordsPerFile
	}
	if sCfg.DedupFilterBits == 0 {
		sCfg.DedupFilterBits = defaultDedupFilterBits
	}
}

func (sCfg *Sink) validate() error {
	if sCfg.MaxRecordsPerFile <= 0 {
		return failure.Capacity("config", fmt.Errorf("Sink: MaxRecordsPerFile %d is not positive", sCfg.MaxRecordsPerFile))
	}
	if sCfg.DedupFilterBits < 10 || sCfg.DedupFilterBits > 36 {
		return fmt.Errorf("config: Sink: DedupFilterBits %d is outside [10, 36]", sCfg.DedupFilterBits)
	}
	return nil
}

// Logging is the relay logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Metrics is the prometheus configuration.
type Metrics struct {
	// Address is the host:port the /metrics endpoint binds to.  If
	// omitted no metrics are served.
	Address string
}

func (mCfg *Metrics) validate() error {
	if mCfg.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(mCfg.Address); err != nil {
		return fmt.Errorf("config: Metrics: Address '%v' is invalid: %v", mCfg.Address, err)
	}
	return nil
}

// Debug is the relay debug configuration.
type Debug struct {
	// BreakerThreshold is the number of consecutive failures after which
	// a peer is skipped.
	BreakerThreshold int

	// BreakerCooldown is how long in milliseconds a failing peer is
	// skipped for.
	BreakerCooldown int

	// RetryBaseDelay is the delay in milliseconds before the first retry
	// of a failed peer send.
	RetryBaseDelay int

	// RetryMaxDelay caps the delay in milliseconds between retries.
	RetryMaxDelay int

	// ShutdownFlushTimeout bounds in milliseconds the final flush done at
	// shutdown.
	ShutdownFlushTimeout int

	// EnableProfiling starts the profiler, if compiled in.
	EnableProfiling bool
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.BreakerThreshold <= 0 {
		dCfg.BreakerThreshold = defaultBreakerThreshold
	}
	if dCfg.BreakerCooldown <= 0 {
		dCfg.BreakerCooldown = defaultBreakerCooldown
	}
	if dCfg.RetryBaseDelay <= 0 {
		dCfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if dCfg.RetryMaxDelay < dCfg.RetryBaseDelay {
		dCfg.RetryMaxDelay = defaultRetryMaxDelay
		if dCfg.RetryMaxDelay < dCfg.RetryBaseDelay {
			dCfg.RetryMaxDelay = dCfg.RetryBaseDelay
		}
	}
	if dCfg.ShutdownFlushTimeout <= 0 {
		dCfg.ShutdownFlushTimeout = defaultShutdownFlushTimeout
	}
}

// Config is the top level relay configuration.
type Config struct {
	Relay   *Relay
	Sink    *Sink
	Logging *Logging
	Metrics *Metrics
	Debug   *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Relay section is mandatory, everything else is optional.
	if cfg.Relay == nil {
		return errors.New("config: No Relay block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	cfg.Relay.applyDefaults()
	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	if cfg.Relay.IsOrigin {
		if cfg.Sink == nil {
			cfg.Sink = &Sink{}
		}
		cfg.Sink.applyDefaults(cfg.Relay)
		if err := cfg.Sink.validate(); err != nil {
			return err
		}
	} else if cfg.Sink != nil {
		return errors.New("config: Sink block set when not the Origin")
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Metrics.validate(); err != nil {
		return err
	}
	cfg.Debug.applyDefaults()
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
