package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // json or console
	ServiceName string `mapstructure:"service_name"`
	InstanceID  string `mapstructure:"instance_id"`
}

var (
	mu     sync.RWMutex
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// New builds a logger writing to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger writing to w. Every entry carries the
// service name and instance id so fan-out traffic can be traced per process.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	lc := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		lc = lc.Str(FieldService, cfg.ServiceName)
	}
	if cfg.InstanceID != "" {
		lc = lc.Str(FieldInstanceID, cfg.InstanceID)
	}
	return lc.Logger()
}

// Init replaces the global logger and routes the stdlib logger through it,
// so libraries that call log.Printf still produce structured entries.
func Init(cfg Config) {
	l := New(cfg)

	mu.Lock()
	global = l
	mu.Unlock()

	stdlog.SetFlags(0)
	stdlog.SetOutput(l.With().Str("source", "stdlog").Logger())
}

// L returns the global logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "info":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	case "off":
		return zerolog.Disabled
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}
