package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const filePrefix = "arbitrage_bot_"

// Options controls where and how verbosely the bot logs.
type Options struct {
	Dir        string
	Level      string
	Debug      bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console receives a copy of every line. Nil means stdout.
	Console io.Writer
	Now     func() time.Time
}

// Logger bundles the configured logger with its rotating file sink.
type Logger struct {
	*logrus.Logger
	Path string
	file *lumberjack.Logger
}

// Setup creates logs/arbitrage_bot_YYYY-MM-DD.log and tees it with the console.
func Setup(opts Options) (*Logger, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	dir := opts.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if opts.Debug {
		level = logrus.DebugLevel
	}

	path := FileName(dir, now())
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetOutput(io.MultiWriter(console, file))
	return &Logger{Logger: logger, Path: path, file: file}, nil
}

// FileName returns the daily log file path for t.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, filePrefix+t.Format("2006-01-02")+".log")
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything. Used by tests and as a nil default.
func Discard() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
