// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootinfo

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/camelcase"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/linuxboot/lblboot/pkg/efi"
)

func sizeString(n uint64) string {
	return fmt.Sprintf("%#x (%d: %s)", n, n, humanize.IBytes(n))
}

// Summary prints a multi-line summary of the record's content.
func (d *Descriptor) Summary() string {
	s := fmt.Sprintf("Magic                     : %#016x\n", d.Magic)
	s += fmt.Sprintf("Version                   : %d.%d\n", d.Version>>16, d.Version&0xffff)
	s += fmt.Sprintf("Header Size               : %d\n", d.HeaderSize)
	s += fmt.Sprintf("Total Size                : %d\n", d.TotalSize)
	s += fmt.Sprintf("Image Load Address        : %#x\n", d.ImageLoadAddress)
	s += fmt.Sprintf("Image Size                : %s\n", sizeString(d.ImageSize))
	s += fmt.Sprintf("Image Entry Offset        : %#x\n", d.ImageEntryOffset)
	s += fmt.Sprintf("Entry Point               : %v\n", d.EntryPoint())
	s += fmt.Sprintf("Memory Map Address        : %#x\n", d.MemoryMapAddress)
	s += fmt.Sprintf("Memory Map Size           : %s\n", sizeString(d.MemoryMapSize))
	s += fmt.Sprintf("Memory Map Key            : %#x\n", d.MemoryMapKey)
	s += fmt.Sprintf("Memory Descriptor Size    : %d\n", d.MemoryDescriptorSize)
	s += fmt.Sprintf("Memory Descriptor Version : %d\n", d.MemoryDescriptorVersion)
	s += fmt.Sprintf("Memory Map Entries        : %d\n", d.MemoryMapEntries)
	if d.HasFramebuffer() {
		s += fmt.Sprintf("Framebuffer               : %dx%d @ %#x, stride %d, %d bpp, %v\n",
			d.FramebufferWidth, d.FramebufferHeight, d.FramebufferAddress,
			d.FramebufferStride, d.FramebufferBPP, efi.PixelFormat(d.FramebufferPixelFormat))
		s += fmt.Sprintf("Framebuffer Size          : %s\n", sizeString(d.FramebufferSize))
	} else {
		s += "Framebuffer               : unavailable\n"
	}
	if d.ACPIRootPointer != 0 {
		s += fmt.Sprintf("ACPI RSDP                 : %#x\n", d.ACPIRootPointer)
	} else {
		s += "ACPI RSDP                 : not found\n"
	}
	s += fmt.Sprintf("EFI System Table          : %#x\n", d.SystemTableAddress)
	return s
}

func memoryTypeName(t efi.MemoryType) string {
	return strings.Join(camelcase.Split(t.String()), " ")
}

// MemoryMapTable renders descriptors as a table.
func MemoryMapTable(title string, descs []efi.MemoryDescriptor) string {
	t := table.NewWriter()
	t.Style().Format.Footer = text.FormatDefault
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(table.Row{"#", "Type", "Physical Start", "Physical End", "Pages", "Size", "Attributes"})
	var total uint64
	for i, d := range descs {
		t.AppendRow(table.Row{
			i,
			memoryTypeName(d.Type),
			fmt.Sprintf("%#016x", uint64(d.PhysicalStart)),
			fmt.Sprintf("%#016x", uint64(d.End())),
			d.NumberOfPages,
			humanize.IBytes(d.Size()),
			fmt.Sprintf("%#x", d.Attribute),
		})
		total += d.Size()
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", humanize.IBytes(total), ""})
	return t.Render()
}
