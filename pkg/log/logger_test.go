// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingConsole struct {
	lines []string
	err   error
}

func (c *recordingConsole) OutputString(s string) error {
	c.lines = append(c.lines, s)
	return c.err
}

func TestConsoleLogger(t *testing.T) {
	c := &recordingConsole{}
	l := NewConsoleLogger(c)
	l.Infof("found %d filesystem handle(s)\n", 3)
	l.Warnf("no framebuffer")
	l.Errorf("status %s", "EFI_NOT_FOUND")

	require.Equal(t, []string{
		"[lbl][INFO] found 3 filesystem handle(s)\r\n",
		"[lbl][WARN] no framebuffer\r\n",
		"[lbl][ERROR] status EFI_NOT_FOUND\r\n",
	}, c.lines)
}

func TestConsoleLoggerIgnoresOutputErrors(t *testing.T) {
	c := &recordingConsole{err: errors.New("device gone")}
	l := NewConsoleLogger(c)
	l.Fatalf("halting")
	require.Len(t, c.lines, 1)

	var nilConsole ConsoleLogger
	nilConsole.Infof("dropped")
}

func TestOr(t *testing.T) {
	require.Equal(t, DefaultLogger, Or(nil))
	require.Equal(t, Nop, Or(Nop))
}
