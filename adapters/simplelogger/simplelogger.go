// Package simplelogger implements deliberation.Logger as a JSON-lines
// writer, grounded on pkg/logger.SimpleLogger's shape (level-gated
// Debug/Info/Warn/Error, a fixed field map carried on every line) but
// emitting one JSON object per line instead of the teacher's
// space-joined "key=value" text, since the reference binary's log
// output is meant to be machine-parseable by the demo harness.
package simplelogger

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hoyack/archon72-sub000/deliberation"
)

// Level controls which severities are written.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a case-insensitive level name to a Level, defaulting to
// InfoLevel for anything unrecognized.
func ParseLevel(name string) Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger is a JSON-lines implementation of deliberation.Logger.
type Logger struct {
	out   io.Writer
	level Level
}

// New constructs a Logger writing JSON lines to w at the given level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: w, level: level}
}

// NewStdout is the common case: a Logger writing to os.Stdout at InfoLevel.
func NewStdout() *Logger {
	return New(os.Stdout, InfoLevel)
}

type logLine struct {
	Time   string                 `json:"time"`
	Level  string                 `json:"level"`
	Msg    string                 `json:"msg"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) write(level Level, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	line := logLine{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Level:  levelName,
		Msg:    msg,
		Fields: fields,
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return
	}
	encoded = append(encoded, '\n')
	_, _ = l.out.Write(encoded)
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.write(DebugLevel, "DEBUG", msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.write(InfoLevel, "INFO", msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.write(WarnLevel, "WARN", msg, fields) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.write(ErrorLevel, "ERROR", msg, fields) }

// The WithContext variants ignore ctx's value bag (there is nothing in
// this adapter's context to extract, e.g. a request/trace ID middleware
// would populate) and delegate to the plain form; they exist so this
// type satisfies deliberation.Logger without every call site needing two
// logger references.
func (l *Logger) DebugWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, fields)
}
func (l *Logger) InfoWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, fields)
}
func (l *Logger) WarnWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, fields)
}
func (l *Logger) ErrorWithContext(_ context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, fields)
}

var _ deliberation.Logger = (*Logger)(nil)
