// Package logging wires the shared logrus instance used across the
// proxy, with the same custom formatter and rotation-via-lumberjack idiom
// as the teacher's internal/logging/global_logger.go.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Formatter renders "[timestamp] [level] [file:line] message".
type Formatter struct{}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")
	caller := "?"
	if entry.Caller != nil {
		caller = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(fmt.Sprintf("[%s] [%s] [%s] %s\n", timestamp, entry.Level, caller, message))
	return buffer.Bytes(), nil
}

// Options configures log rotation destinations.
type Options struct {
	// LogDir is the directory rotated log files are written to. Empty
	// means stdout only (used in tests and simple deployments).
	LogDir     string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Debug      bool
}

// Setup configures the shared logrus instance. Safe to call more than
// once; only the first call takes effect.
func Setup(opts Options) {
	setupOnce.Do(func() {
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})
		if opts.Debug {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}

		var out io.Writer = os.Stdout
		if opts.LogDir != "" {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(opts.LogDir, "gproxy.log"),
				MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
				MaxAge:     firstNonZero(opts.MaxAgeDays, 28),
				MaxBackups: firstNonZero(opts.MaxBackups, 7),
				Compress:   true,
			}
			out = io.MultiWriter(os.Stdout, rotator)
		}
		log.SetOutput(out)
	})
}

func firstNonZero(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
