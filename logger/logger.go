// Package logger provides the process-wide logrus logger used by every
// knockbot component.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log = newDefault()
	mu  sync.RWMutex
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	return l
}

// Initialize replaces the global logger with one using the given level
// (debug, info, warn, error) and format (text, json).
func Initialize(level, format string) error {
	return InitializeWriter(level, format, os.Stdout)
}

// InitializeWriter is Initialize with an explicit destination.
func InitializeWriter(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetOutput(out)

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// Get returns the current global logger.
func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// WithComponent returns an entry tagged with the component name, the
// structured counterpart of the "[BOT]" style prefixes.
func WithComponent(name string) *logrus.Entry {
	return Get().WithField("component", name)
}
