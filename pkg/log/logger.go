// Copyright 2021-2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log provides the diagnostic sink used by the stage 1 loader.
package log

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger describes a logger to be used in lblboot.
type Logger interface {
	// Infof logs a progress message.
	Infof(format string, args ...interface{})

	// Warnf logs an warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and immediately exits the application
	// with os.Exit.
	Fatalf(format string, args ...interface{})
}

// Console is the firmware text output a ConsoleLogger writes to.
type Console interface {
	OutputString(s string) error
}

// DefaultLogger is the logger used by default everywhere within lblboot.
var DefaultLogger Logger

// Nop discards everything.
var Nop Logger = nopLogger{}

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

// Or returns l, or DefaultLogger if l is nil.
func Or(l Logger) Logger {
	if l == nil {
		return DefaultLogger
	}
	return l
}

type logWrapper struct {
	Logger *log.Logger
}

// Infof implements Logger.
func (logger logWrapper) Infof(format string, args ...interface{}) {
	logger.Logger.Printf("[lbl][INFO] "+format, args...)
}

// Warnf implements Logger.
func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[lbl][WARN] "+format, args...)
}

// Errorf implements Logger.
func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[lbl][ERROR] "+format, args...)
}

// Fatalf implements Logger.
func (logger logWrapper) Fatalf(format string, args ...interface{}) {
	logger.Logger.Fatalf("[lbl][FATAL] "+format, args...)
}

// ConsoleLogger writes log lines to a firmware console. Output errors are
// ignored: the console is never load-bearing.
type ConsoleLogger struct {
	Console Console
}

// NewConsoleLogger returns a Logger printing on c.
func NewConsoleLogger(c Console) *ConsoleLogger {
	return &ConsoleLogger{Console: c}
}

func (logger *ConsoleLogger) print(level, format string, args ...interface{}) {
	if logger.Console == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	msg = strings.TrimRight(msg, "\r\n")
	_ = logger.Console.OutputString("[lbl][" + level + "] " + msg + "\r\n")
}

// Infof implements Logger.
func (logger *ConsoleLogger) Infof(format string, args ...interface{}) {
	logger.print("INFO", format, args...)
}

// Warnf implements Logger.
func (logger *ConsoleLogger) Warnf(format string, args ...interface{}) {
	logger.print("WARN", format, args...)
}

// Errorf implements Logger.
func (logger *ConsoleLogger) Errorf(format string, args ...interface{}) {
	logger.print("ERROR", format, args...)
}

// Fatalf implements Logger. There is no process to exit in firmware, so the
// message is printed and the caller is expected to halt.
func (logger *ConsoleLogger) Fatalf(format string, args ...interface{}) {
	logger.print("FATAL", format, args...)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}

// Infof logs a progress message.
func Infof(format string, args ...interface{}) {
	DefaultLogger.Infof(format, args...)
}

// Warnf logs an warning message.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}

// Fatalf logs a fatal message and immediately exits the application
// with os.Exit (which is expected to be called by the DefaultLogger.Fatalf).
func Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf(format, args...)
}
