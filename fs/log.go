package fs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogLevel is re-exported so callers configure verbosity without importing
// logrus themselves.
type LogLevel = logrus.Level

// logger is the process-wide logger. Object-first printf helpers below are
// the only logging surface the rest of the module uses.
var logger = logrus.StandardLogger()

// SetLogLevel adjusts the global verbosity.
func SetLogLevel(level LogLevel) {
	logger.SetLevel(level)
}

// LogPrintf logs at the given level about an object, which may be nil.
func LogPrintf(level LogLevel, o interface{}, text string, args ...interface{}) {
	out := fmt.Sprintf(text, args...)
	if o != nil {
		out = fmt.Sprintf("%v: %s", o, out)
	}
	logger.Log(level, out)
}

// Debugf writes debug-level output about the object o.
func Debugf(o interface{}, text string, args ...interface{}) {
	LogPrintf(logrus.DebugLevel, o, text, args...)
}

// Infof writes info-level output about the object o.
func Infof(o interface{}, text string, args ...interface{}) {
	LogPrintf(logrus.InfoLevel, o, text, args...)
}

// Logf writes warning-level output about the object o.
func Logf(o interface{}, text string, args ...interface{}) {
	LogPrintf(logrus.WarnLevel, o, text, args...)
}

// Errorf writes error-level output about the object o.
func Errorf(o interface{}, text string, args ...interface{}) {
	LogPrintf(logrus.ErrorLevel, o, text, args...)
}
