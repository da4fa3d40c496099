// Package pnlog provides the structured logging Sink the transport
// writes through. The default Sink wraps logrus; tests and embedders
// that want silence can use Noop.
package pnlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Sink is the logging surface the transport depends on. It is
// satisfied by *logrus.Logger and *logrus.Entry, and deliberately
// kept small enough that swapping loggers never needs a shim beyond
// this interface.
type Sink interface {
	logrus.FieldLogger
}

// Options configures the default logrus-backed Sink.
type Options struct {
	Level     logrus.Level
	Output    io.Writer
	JSON      bool
	Component string
}

// DefaultOptions returns text-formatted, info-level logging to stderr.
func DefaultOptions() Options {
	return Options{Level: logrus.InfoLevel, Output: os.Stderr, Component: "peernet"}
}

// New builds a logrus-backed Sink from the given Options.
func New(opts Options) Sink {
	l := logrus.New()
	l.SetLevel(opts.Level)
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	}
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l.WithField("component", opts.Component)
}

// Noop returns a Sink that discards everything, for tests that don't
// want log noise on failure output.
func Noop() Sink {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "peernet")
}
