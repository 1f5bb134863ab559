// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sectors

import (
	"encoding/hex"
	"fmt"

	"github.com/linuxboot/lblboot/cmds/lblemu/commands"
	"github.com/linuxboot/lblboot/pkg/bios"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Platform
	Drive uint8  `short:"d" long:"drive" description:"BIOS drive number" default:"128"`
	LBA   uint64 `long:"lba" description:"first sector"`
	Count uint16 `short:"c" long:"count" description:"number of sectors" default:"1"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "dumps sectors of a legacy disk"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return "Reads sectors through the INT 13h read primitive the way the MBR and stage 2 do."
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	if cmd.Count == 0 {
		return commands.ErrArgs{Err: fmt.Errorf("--count must be positive")}
	}
	m, err := cmd.Machine()
	if err != nil {
		return err
	}
	r, err := m.Disk(cmd.Drive)
	if err != nil {
		return err
	}
	buf := make([]byte, int(cmd.Count)*bios.SectorSize)
	if err := r.ReadSectors(cmd.Drive, cmd.LBA, cmd.Count, buf); err != nil {
		return fmt.Errorf("unable to read %d sector(s) at lba %d from drive %#x: %w", cmd.Count, cmd.LBA, cmd.Drive, err)
	}
	fmt.Print(hex.Dump(buf))
	return nil
}
