package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
)

type Color string

const (
	ColorBlack  Color = "\u001b[30m"
	ColorRed    Color = "\u001b[31m"
	ColorGreen  Color = "\u001b[32m"
	ColorYellow Color = "\u001b[33m"
	ColorBlue   Color = "\u001b[34m"
	ColorReset  Color = "\u001b[0m"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// Logger wraps a *log.Logger with levels and optional terminal colours.
type Logger struct {
	*log.Logger
	min   Level
	color bool
}

func New(out io.Writer, prefix string, min Level, color bool) *Logger {
	return &Logger{
		Logger: log.New(out, prefix, 1|4),
		min:    min,
		color:  color,
	}
}

// Wrap reuses an existing *log.Logger, logging every level without colour.
func Wrap(lg *log.Logger) *Logger {
	return &Logger{Logger: lg, min: LevelDebug}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: log.New(io.Discard, "", 0), min: LevelError + 1}
}

func (c *Logger) Enabled(l Level) bool { return c != nil && l >= c.min }

func (c *Logger) Printcf(color Color, format string, args ...interface{}) {
	if c == nil {
		return
	}
	if !c.color {
		c.Print(fmt.Sprintf(format, args...))
		return
	}
	c.Print(string(color) + fmt.Sprintf(format, args...) + string(ColorReset))
}

func (c *Logger) Debugf(format string, args ...interface{}) {
	if c.Enabled(LevelDebug) {
		c.Printcf(ColorBlue, format, args...)
	}
}

func (c *Logger) Infof(format string, args ...interface{}) {
	if c.Enabled(LevelInfo) {
		c.Printcf(ColorGreen, format, args...)
	}
}

func (c *Logger) Warnf(format string, args ...interface{}) {
	if c.Enabled(LevelWarn) {
		c.Printcf(ColorYellow, format, args...)
	}
}

func (c *Logger) Errorf(format string, args ...interface{}) {
	if c.Enabled(LevelError) {
		c.Printcf(ColorRed, format, args...)
	}
}
