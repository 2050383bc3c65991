package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pevans/finharvest/config"
	"github.com/sirupsen/logrus"
)

// newLogger writes to stderr and, when configured, appends to the log file.
// The returned func closes the file.
func newLogger(opts *config.Options) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetLevel(opts.LogLevel)

	if opts.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return logger, func() {}, nil
	}

	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))

	return logger, func() { f.Close() }, nil
}
