package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how a Logger is built
type Options struct {
	Debug   bool
	NoColor bool
	// Format is "console" (default) or "json"
	Format string
	// Output overrides stderr when FilePath is empty
	Output io.Writer
	// FilePath enables rotated file output instead of stderr
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger provides structured logging with redaction support
type Logger struct {
	debug bool
	sugar *zap.SugaredLogger
}

// New creates a console logger writing to stderr
func New(debug, noColor bool) *Logger {
	l, err := NewWithOptions(Options{Debug: debug, NoColor: noColor})
	if err != nil {
		// Console output with a known format cannot fail to build.
		panic(err)
	}
	return l
}

// NewWithOptions creates a logger from explicit options
func NewWithOptions(opts Options) (*Logger, error) {
	enc, err := buildEncoder(opts)
	if err != nil {
		return nil, err
	}

	ws, err := buildWriter(opts)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(level))
	z := zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		debug: opts.Debug,
		sugar: z.Sugar(),
	}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func buildEncoder(opts Options) (zapcore.Encoder, error) {
	switch opts.Format {
	case "json":
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		if opts.NoColor || opts.FilePath != "" {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

func buildWriter(opts Options) (zapcore.WriteSyncer, error) {
	if opts.FilePath == "" {
		if opts.Output != nil {
			return zapcore.Lock(zapcore.AddSync(opts.Output)), nil
		}
		return zapcore.Lock(zapcore.AddSync(os.Stderr)), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    orDefault(opts.MaxSizeMB, 100),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 30),
		Compress:   true,
	}), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		debug: l.debug,
		sugar: l.sugar.With(keysAndValues...),
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
