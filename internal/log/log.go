// Package log provides levelled logging for the deep EXR library and tools.
//
// Messages go through the standard log package unless a LogConfig with a
// log file is applied, in which case they go to a size-rotated file.
package log

import (
	"fmt"
	stdlog "log"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity that gets written.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// Logger records messages at different severities.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

var (
	mu     sync.RWMutex
	mode   = WarningMode
	logger Logger = stdLogger{}
)

// SetLogMode sets the severity required for a message to be printed.
func SetLogMode(m ModeFlag) {
	mu.Lock()
	mode = m
	mu.Unlock()
}

// Mode returns the current severity threshold.
func Mode() ModeFlag {
	mu.RLock()
	defer mu.RUnlock()
	return mode
}

// SetLogger replaces the package logger. A nil logger restores the default.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = stdLogger{}
	}
	logger = l
}

func current(level ModeFlag) Logger {
	mu.RLock()
	defer mu.RUnlock()
	if mode > level {
		return nil
	}
	return logger
}

func Debugf(format string, args ...interface{}) {
	if l := current(DebugMode); l != nil {
		l.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if l := current(InfoMode); l != nil {
		l.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if l := current(WarningMode); l != nil {
		l.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if l := current(ErrorMode); l != nil {
		l.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if l := current(CriticalMode); l != nil {
		l.Criticalf(format, args...)
	}
}

// Shutdown closes the package logger.
func Shutdown() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Shutdown()
}

// TimeLog appends the elapsed time since its creation to each message.
//
//	tl := log.NewTimeLog()
//	...
//	tl.Infof("decoded %d chunks", n)
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, time.Since(t.start))...)
}

// LogConfig selects rotating file output.
type LogConfig struct {
	Logfile string `toml:"logfile"`
	MaxSize int    `toml:"max_log_size"` // megabytes
	MaxAge  int    `toml:"max_log_age"`  // days
}

// SetLogger routes log output to a rotating file. With no file configured
// the standard logger is kept.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		return
	}
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	SetLogger(fileLogger{l})
}

// stdLogger writes through the standard log package.
type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...interface{}) {
	stdlog.Printf(" DEBUG "+format, args...)
}

func (stdLogger) Infof(format string, args ...interface{}) {
	stdlog.Printf(" INFO "+format, args...)
}

func (stdLogger) Warningf(format string, args ...interface{}) {
	stdlog.Printf(" WARNING "+format, args...)
}

func (stdLogger) Errorf(format string, args ...interface{}) {
	stdlog.Printf(" ERROR "+format, args...)
}

func (stdLogger) Criticalf(format string, args ...interface{}) {
	stdlog.Printf(" CRITICAL "+format, args...)
}

func (stdLogger) Shutdown() {}

// fileLogger writes timestamped lines to a lumberjack rotating file.
type fileLogger struct {
	*lumberjack.Logger
}

func (f fileLogger) write(level, format string, args ...interface{}) {
	line := time.Now().Format("2006/01/02 15:04:05") + " " + level + " " + fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	f.Write([]byte(line))
}

func (f fileLogger) Debugf(format string, args ...interface{}) {
	f.write("DEBUG", format, args...)
}

func (f fileLogger) Infof(format string, args ...interface{}) {
	f.write("INFO", format, args...)
}

func (f fileLogger) Warningf(format string, args ...interface{}) {
	f.write("WARNING", format, args...)
}

func (f fileLogger) Errorf(format string, args ...interface{}) {
	f.write("ERROR", format, args...)
}

func (f fileLogger) Criticalf(format string, args ...interface{}) {
	f.write("CRITICAL", format, args...)
}

func (f fileLogger) Shutdown() {
	f.Close()
}
