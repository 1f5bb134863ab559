// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tables

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/lblboot/cmds/lblemu/commands"
	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/platform"
)

var _ commands.Command = (*Command)(nil)

type Command struct {
	commands.Platform
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints the EFI system table and configuration tables"
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
	st := m.SystemTable()
	fmt.Printf("Firmware Vendor   : %s\n", st.FirmwareVendor)
	fmt.Printf("Firmware Revision : %#x\n", st.FirmwareRevision)
	fmt.Printf("System Table      : %v\n", st.Address)
	fmt.Printf("Runtime Services  : %v\n", st.RuntimeServices)

	t := table.NewWriter()
	t.SetTitle("Configuration Tables")
	t.AppendHeader(table.Row{"#", "GUID", "Name", "Address"})
	for i, ct := range st.Tables {
		t.AppendRow(table.Row{i, ct.VendorGUID.String(), efi.GUIDName(ct.VendorGUID), ct.VendorTable.String()})
	}
	fmt.Println(t.Render())

	for i, name := range m.Volumes() {
		fmt.Printf("Simple File System [%d]: %s\n", i, name)
	}

	if rsdp := platform.FindACPIRoot(st.Tables); rsdp != 0 {
		fmt.Printf("ACPI RSDP handed to the core: %v\n", rsdp)
	} else {
		fmt.Println("No ACPI RSDP")
	}
	return nil
}
