// Package logutil configures process-wide logrus output, the way every DNA
// role bootstraps its logger before starting any service.
package logutil

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureVerbosity sets the global logrus level from a CLI-provided
// string (debug, info, warn, error, fatal, panic).
func ConfigureVerbosity(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	return nil
}

// ConfigurePersistentLogging adds a log-to-file writer. File content is
// identical to stdout.
func ConfigurePersistentLogging(logFileName string) error {
	logrus.WithField("log_file", logFileName).Info("logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	mw := io.MultiWriter(os.Stdout, f)
	logrus.SetOutput(mw)

	logrus.Info("file logging initialized")
	return nil
}

// ConfigureJSON switches the global formatter to JSON, for deployments
// that ship logs to a collector instead of a terminal.
func ConfigureJSON() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

// WithRole returns a logger annotated with the role name (ingestor,
// compactor, server), mirroring the "prefix" field convention used
// throughout the module's internal packages.
func WithRole(role string) *logrus.Entry {
	return logrus.WithField("role", role)
}
