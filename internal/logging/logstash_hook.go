package logging

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var errLogstashCooldown = errors.New("logstash: reconnect cooldown")

type LogstashConfig struct {
	Addr         string
	Service      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// Cooldown is how long the hook stays silent after a failed dial or write.
	Cooldown time.Duration
}

// LogstashHook ships every entry as one JSON line to a Logstash TCP input,
// independent of the formatter used for stdout. Entries are dropped, never
// queued, while Logstash is unreachable.
type LogstashHook struct {
	cfg       LogstashConfig
	formatter logrus.Formatter

	mu       sync.Mutex
	conn     net.Conn
	retryAt  time.Time
	closed   bool
	dropped  atomic.Int64
	dialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewLogstashHook(cfg LogstashConfig) (*LogstashHook, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("logstash: empty address")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	fields := logrus.FieldMap{logrus.FieldKeyTime: "@timestamp", logrus.FieldKeyMsg: "message"}
	return &LogstashHook{
		cfg:       cfg,
		formatter: &logrus.JSONFormatter{FieldMap: fields, TimestampFormat: time.RFC3339Nano},
		dialFunc:  net.DialTimeout,
	}, nil
}

func (h *LogstashHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogstashHook) Fire(entry *logrus.Entry) error {
	line, err := h.format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if err := h.connectLocked(); err != nil {
		h.dropped.Add(1)
		return nil
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if _, err := h.conn.Write(line); err != nil {
		h.resetLocked()
		h.dropped.Add(1)
	}
	return nil
}

// Dropped is the number of entries lost while Logstash was unreachable.
func (h *LogstashHook) Dropped() int64 {
	return h.dropped.Load()
}

func (h *LogstashHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

func (h *LogstashHook) format(entry *logrus.Entry) ([]byte, error) {
	if h.cfg.Service != "" {
		if _, ok := entry.Data["service"]; !ok {
			entry = entry.WithField("service", h.cfg.Service)
		}
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	if n := len(line); n == 0 || line[n-1] != '\n' {
		line = append(line, '\n')
	}
	return line, nil
}

func (h *LogstashHook) connectLocked() error {
	if h.conn != nil {
		return nil
	}
	if !h.retryAt.IsZero() && time.Now().Before(h.retryAt) {
		return errLogstashCooldown
	}
	conn, err := h.dialFunc("tcp", h.cfg.Addr, h.cfg.DialTimeout)
	if err != nil {
		h.retryAt = time.Now().Add(h.cfg.Cooldown)
		return err
	}
	h.conn = conn
	h.retryAt = time.Time{}
	return nil
}

func (h *LogstashHook) resetLocked() {
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
	h.retryAt = time.Now().Add(h.cfg.Cooldown)
}
