package vanet

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// logger is shared by every component of the package.  Commands set its level
// from the run description; tests may point its output elsewhere
var logger = logrus.New()

// Logger returns the package logger
func Logger() *logrus.Logger {
	return logger
}

// SetLogOutput redirects the package logger
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// parseLogLevel maps a level name from a run description to a logrus level
func parseLogLevel(name string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(name))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// SetLogLevel sets the package logger's level by name; an empty name keeps the current level
func SetLogLevel(name string) error {
	if len(name) == 0 {
		return nil
	}
	lvl, err := parseLogLevel(name)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}
