// Copyright 2017-2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lblemu runs the stage 1 loader against an emulated UEFI platform.
//
// Synopsis:
//     lblemu boot -p PLATFORM [-o SNAPSHOT] [--path PATH] [--entry-offset N] [--exit-retries N] [-q]
//     lblemu memmap -p PLATFORM [-j]
//     lblemu tables -p PLATFORM
//     lblemu sectors -p PLATFORM [-d DRIVE] --lba LBA [-c COUNT]
//
// An example:
//     lblemu boot -p cmds/lblemu/testdata/platform.yaml -o handoff.bin.xz
//     lblinfo handoff.bin.xz
//
// Description:
//     boot:    Runs stage 1 and prints the boot info record
//     memmap:  Prints the platform memory map
//     tables:  Prints the configuration tables
//     sectors: Hex dumps legacy disk sectors
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/lblboot/cmds/lblemu/commands"
	"github.com/linuxboot/lblboot/cmds/lblemu/commands/boot"
	"github.com/linuxboot/lblboot/cmds/lblemu/commands/memmap"
	"github.com/linuxboot/lblboot/cmds/lblemu/commands/sectors"
	"github.com/linuxboot/lblboot/cmds/lblemu/commands/tables"
)

var (
	knownCommands = map[string]commands.Command{
		"boot":    &boot.Command{},
		"memmap":  &memmap.Command{},
		"tables":  &tables.Command{},
		"sectors": &sectors.Command{},
	}
)

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
