// Package swaplog owns the daemon's per-subsystem loggers. Every core
// package accepts a btclog.Logger in its Config and defaults to doing
// nothing; the daemon calls Setup once at startup to route all subsystems
// to a shared rotating-file-plus-stdout backend, then hands each package
// its named logger.
package swaplog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, assigned the way the teacher daemon prefixes its
// per-package loggers.
const (
	SubSwap   = "SWAP" // swap state machine and manager
	SubWire   = "WIRE" // wire protocol
	SubChain  = "CHWT" // chain watchers
	SubWallet = "WLLT" // wallet adapters
	SubStore  = "PRST" // persistence
	SubAnno   = "ANNC" // announce/negotiate
	SubAction = "ACTN" // action surface / HTTP API
	SubDaemon = "SWPD" // daemon wiring
)

var (
	mu      sync.Mutex
	backend *btclog.Backend
	loggers = make(map[string]btclog.Logger)
	rot     *rotator.Rotator
)

// logWriter tees log output to stdout and, when rotation is configured,
// the rotating log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)

	mu.Lock()
	r := rot
	mu.Unlock()
	if r != nil {
		r.Write(p)
	}
	return len(p), nil
}

// Setup initializes the shared backend, rotating the log file at logDir/
// swapd.log. Call once, before constructing any subsystem.
func Setup(logDir string, level btclog.Level) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("swaplog: creating log dir: %w", err)
	}

	logFile := filepath.Join(logDir, "swapd.log")
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("swaplog: opening log rotator: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	rot = r
	backend = btclog.NewBackend(io.Writer(logWriter{}))

	// Re-point any logger handed out before Setup ran. Callers holding
	// the old (disabled) value keep it, so the daemon calls Setup before
	// constructing any subsystem.
	for tag := range loggers {
		l := backend.Logger(tag)
		l.SetLevel(level)
		loggers[tag] = l
	}
	defaultLevel = level
	return nil
}

// defaultLevel is applied to loggers created after Setup.
var defaultLevel = btclog.LevelInfo

// Logger returns the named subsystem's logger, creating a disabled one if
// Setup hasn't run yet (tests, library use).
func Logger(tag string) btclog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[tag]; ok {
		return l
	}

	var l btclog.Logger
	if backend != nil {
		l = backend.Logger(tag)
		l.SetLevel(defaultLevel)
	} else {
		l = btclog.Disabled
	}
	loggers[tag] = l
	return l
}

// Close flushes and closes the rotating log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if rot != nil {
		rot.Close()
		rot = nil
	}
}
