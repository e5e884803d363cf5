package logging

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log file and its rotation.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Logger is a *log.Logger backed by a size-rotated file.
type Logger struct {
	*log.Logger
	file *lumberjack.Logger
}

// New creates a Logger writing to opts.File. Lines are also copied to extra
// when it is not nil, e.g. a console log pane.
func New(opts Options, extra io.Writer) *Logger {
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	var out io.Writer = file
	if extra != nil {
		out = io.MultiWriter(file, extra)
	}
	return &Logger{
		Logger: log.New(out, "", log.Ldate|log.Lmicroseconds),
		file:   file,
	}
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	return l.file.Rotate()
}

func (l *Logger) Close() error {
	return l.file.Close()
}
