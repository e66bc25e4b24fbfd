// Package vmlog provides the optional per-instruction trace logger. It
// mirrors pkg/pvm/singlestep.go's fileLogger: a package-level *log.Logger
// that is nil until InitFileLogger is called, checked before every write so
// tracing carries zero cost when disabled.
package vmlog

import (
	"log"
	"os"
)

var logger *log.Logger

// InitFileLogger truncates filename and directs subsequent trace output to
// it. Call once, before the VM starts running.
func InitFileLogger(filename string) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	logger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

// Enabled reports whether a trace destination has been configured.
func Enabled() bool {
	return logger != nil
}

// Tracef writes a trace line if logging is enabled; it is a no-op otherwise.
func Tracef(format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
