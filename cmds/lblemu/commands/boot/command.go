// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"fmt"
	"io"
	"os"

	"github.com/linuxboot/lblboot/cmds/lblemu/commands"
	"github.com/linuxboot/lblboot/pkg/compression"
	"github.com/linuxboot/lblboot/pkg/emu"
	"github.com/linuxboot/lblboot/pkg/handoff"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Platform
	Output      string `short:"o" long:"output" description:"write the handoff snapshot to this file (.xz, .zst, .lz4 are compressed)"`
	ImagePath   string `long:"path" description:"CHAR16 path of the core image on the volumes"`
	EntryOffset uint64 `long:"entry-offset" description:"offset of the entry point in the image"`
	ExitRetries int    `long:"exit-retries" description:"retry ExitBootServices this many times with a refreshed memory map"`
	Quiet       bool   `short:"q" long:"quiet" description:"do not print the firmware console"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "runs stage 1 on the emulated platform"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Loads the core image from the platform volumes, collects platform information, " +
		"exits boot services and prints the boot info record handed to the core image."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	if cmd.ExitRetries < 0 {
		return commands.ErrArgs{Err: fmt.Errorf("negative --exit-retries")}
	}

	m, err := cmd.Machine()
	if err != nil {
		return err
	}
	if cmd.Quiet {
		m.SetConsole(io.Discard)
	} else {
		m.SetConsole(os.Stdout)
	}

	seq := handoff.New(m.Context(), m)
	seq.Idle = m.Halt
	if cmd.ImagePath != "" {
		seq.Config.ImagePath = cmd.ImagePath
	}
	seq.Config.EntryOffset = cmd.EntryOffset
	seq.Config.ExitRetries = cmd.ExitRetries

	h, err := m.Boot(seq)
	if h == nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	fmt.Printf("\nControl transferred to %v\n", h.Entry)
	fmt.Print(h.Descriptor.Summary())
	if v := m.Violations(); len(v) != 0 {
		fmt.Printf("Boot services used after exit: %v\n", v)
	}

	if cmd.Output != "" {
		if werr := writeSnapshot(cmd.Output, h); werr != nil {
			return werr
		}
		fmt.Printf("Snapshot written to %s\n", cmd.Output)
	}
	if err != nil {
		return fmt.Errorf("the core image would reject the handoff: %w", err)
	}
	return nil
}

func writeSnapshot(path string, h *emu.Handoff) error {
	b, err := h.Snapshot().MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to encode the snapshot: %w", err)
	}
	if c := compression.FromPath(path); c != nil {
		if b, err = c.Encode(b); err != nil {
			return fmt.Errorf("unable to compress the snapshot with %s: %w", c.Name(), err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("unable to write the snapshot to '%s': %w", path, err)
	}
	return nil
}
