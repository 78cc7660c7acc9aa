// Copyright 2018 The Cacophony Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ufmflog provides the leveled logger used by the UFMF writer.
package ufmflog

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is a message severity. Lower values are more severe.
type Level int

const (
	Critical Level = iota
	Error
	Warning
	Info
	Debug
	Trace
)

var levelNames = [...]string{"critical", "error", "warning", "info", "debug", "trace"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a level name as used in configuration files.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if s == name {
			return Level(i), nil
		}
	}
	if s == "warn" {
		return Warning, nil
	}
	return Info, fmt.Errorf("unknown log level %q", s)
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Critical:
		// WithLevel never exits the process, even at FatalLevel.
		return zerolog.FatalLevel
	case Error:
		return zerolog.ErrorLevel
	case Warning:
		return zerolog.WarnLevel
	case Info:
		return zerolog.InfoLevel
	case Debug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Logger writes leveled messages through zerolog. When created with
// buffering enabled nothing reaches the underlying writer until Flush or
// Close is called, or the buffer fills.
type Logger struct {
	zl  zerolog.Logger
	mu  *sync.Mutex
	buf *bufio.Writer
}

// New returns a Logger writing to w, discarding messages less severe
// than level.
func New(w io.Writer, level Level, buffered bool) *Logger {
	l := &Logger{mu: new(sync.Mutex)}
	out := w
	if buffered {
		l.buf = bufio.NewWriterSize(w, 64*1024)
		out = &lockedWriter{mu: l.mu, w: l.buf}
	} else {
		out = zerolog.SyncWriter(w)
	}
	l.zl = zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a copy of the logger that adds key=value to every message.
// The copy shares the parent's buffer.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:  l.zl.With().Str(key, value).Logger(),
		mu:  l.mu,
		buf: l.buf,
	}
}

// Logf formats and writes a message at the given level.
func (l *Logger) Logf(level Level, format string, args ...interface{}) {
	e := l.zl.WithLevel(level.zerolog())
	if e == nil {
		return
	}
	if level == Critical {
		e = e.Bool("critical", true)
	}
	e.Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.Logf(Error, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Logf(Warning, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Logf(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.Logf(Debug, format, args...) }

// Flush writes any buffered output.
func (l *Logger) Flush() error {
	if l.buf == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Flush()
}

// Close flushes buffered output. The underlying writer is not closed.
func (l *Logger) Close() error {
	return l.Flush()
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
