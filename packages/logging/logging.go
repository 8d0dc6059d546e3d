// Package logging builds the zap logger used by the engine and the CLI.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noaknobel/final-project/packages/config"
)

// Logger wraps a zap logger together with the file it may own
type Logger struct {
	*zap.Logger
	level  zap.AtomicLevel
	closer io.Closer
}

// New creates a logger from c. STDERR and STDOUT write to the process
// streams, anything else is a file path opened for appending.
func New(c config.Log) (*Logger, error) {
	return NewWithStreams(c, os.Stdout, os.Stderr)
}

// NewWithStreams is New with explicit standard streams
func NewWithStreams(c config.Log, stdout, stderr zapcore.WriteSyncer) (*Logger, error) {
	l := &Logger{level: zap.NewAtomicLevel()}
	if err := l.SetLevel(c.Level); err != nil {
		return nil, err
	}

	var output zapcore.WriteSyncer
	switch c.File {
	case "", "STDERR":
		output = stderr
	case "STDOUT":
		output = stdout
	default:
		dir := filepath.Dir(c.File)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrap(err, "create log directory")
			}
		}
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		output = f
		l.closer = f
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch c.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, errors.Errorf("unknown log format %q", c.Format)
	}

	l.Logger = zap.New(zapcore.NewCore(encoder, zapcore.Lock(output), l.level))
	return l, nil
}

// SetLevel changes the minimum level logged
func (l *Logger) SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return errors.Wrapf(err, "unknown log level %q", level)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Close flushes the logger and closes the log file, if any
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
