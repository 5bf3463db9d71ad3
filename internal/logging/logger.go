package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level        string
	Format       string
	LogstashAddr string
	Service      string
}

// New builds the process logger. The returned closer releases the Logstash
// connection and is never nil.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetLevel(ParseLevel(opts.Level))

	if strings.EqualFold(opts.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.SetOutput(os.Stdout)
	if strings.TrimSpace(opts.LogstashAddr) == "" {
		return logger, nopCloser{}, nil
	}

	hook, err := NewLogstashHook(LogstashConfig{Addr: opts.LogstashAddr, Service: opts.Service})
	if err != nil {
		return nil, nil, err
	}
	logger.AddHook(hook)
	return logger, hook, nil
}

func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard is a logger for tests and optional collaborators.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
