// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memmap

import (
	"encoding/json"
	"fmt"

	"github.com/linuxboot/lblboot/cmds/lblemu/commands"
	"github.com/linuxboot/lblboot/pkg/bootinfo"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Platform
	JSON bool `short:"j" long:"json" description:"print JSON instead of a table"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the firmware memory map"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	m, err := cmd.Machine()
	if err != nil {
		return err
	}
	descs := m.MemoryDescriptors()
	if cmd.JSON {
		b, err := json.MarshalIndent(descs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", b)
		return nil
	}
	fmt.Println(bootinfo.MemoryMapTable(fmt.Sprintf("Memory map, key %#x", m.MapKey()), descs))
	return nil
}
