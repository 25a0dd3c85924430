// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers. Until the log rotator has been initialized, output goes
	// to standard output only.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	// subsystemLoggers maps each subsystem identifier to its associated
	// logger.
	subsystemLoggers = make(map[string]btclog.Logger)

	mtx sync.Mutex
)

// Get returns a logger for the given subsystem tag, creating it when it does
// not exist yet.
func Get(tag string) btclog.Logger {
	mtx.Lock()
	defer mtx.Unlock()

	log, ok := subsystemLoggers[tag]
	if !ok {
		log = backendLog.Logger(tag)
		subsystemLoggers[tag] = log
	}
	return log
}

// InitLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return errors.Wrapf(err, "failed to create log directory %s", logDir)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}

	logRotator = r
	return nil
}

// CloseLogRotator closes the log rotator, flushing any pending writes.
func CloseLogRotator() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// SetLogLevel sets the logging level for the provided subsystem. An invalid
// subsystem is ignored.
func SetLogLevel(tag string, logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)

	mtx.Lock()
	defer mtx.Unlock()
	if log, ok := subsystemLoggers[tag]; ok {
		log.SetLevel(level)
	}
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level. Only loggers that already exist are changed; a logger created
// later by Get starts at the backend default level.
func SetLogLevels(logLevel string) error {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return errors.Errorf("invalid log level %s", logLevel)
	}

	mtx.Lock()
	defer mtx.Unlock()
	for _, log := range subsystemLoggers {
		log.SetLevel(level)
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of the registered subsystems.
func SupportedSubsystems() []string {
	mtx.Lock()
	defer mtx.Unlock()

	subsystems := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		subsystems = append(subsystems, tag)
	}
	sort.Strings(subsystems)
	return subsystems
}

// PanicLogger returns a logger wrapper suitable for logging panics before
// termination.
func PanicLogger(tag string) func(format string, params ...interface{}) {
	log := Get(tag)
	return func(format string, params ...interface{}) {
		log.Criticalf(format, params...)
		fmt.Fprintf(os.Stderr, format+"\n", params...)
	}
}
