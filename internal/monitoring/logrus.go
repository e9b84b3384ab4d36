package monitoring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is a logrus level name; empty means "info".
	Level string
	// FilePath enables a rotating log file when non-empty.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console receives colourless console output; nil means os.Stderr.
	Console io.Writer
}

// NewLogger builds a logrus logger writing to the console and, if
// configured, to a lumberjack-rotated file. The returned closer closes the
// log file.
func NewLogger(cfg LogConfig) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		l, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})
	if cfg.Console != nil {
		logger.SetOutput(cfg.Console)
	} else {
		logger.SetOutput(os.Stderr)
	}

	if cfg.FilePath == "" {
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 30),
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	fileFmt := &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	logger.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.PanicLevel: file,
		logrus.FatalLevel: file,
		logrus.ErrorLevel: file,
		logrus.WarnLevel:  file,
		logrus.InfoLevel:  file,
		logrus.DebugLevel: file,
		logrus.TraceLevel: file,
	}, fileFmt))
	return logger, file, nil
}

// LogrusLogf adapts a logrus logger to the Logf signature for SetLogger.
func LogrusLogf(logger *logrus.Logger) func(format string, v ...interface{}) {
	return logger.Infof
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
