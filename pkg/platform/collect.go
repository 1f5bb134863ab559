// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform gathers the state only firmware can supply: the memory
// map, the graphics framebuffer and the ACPI root pointer.
package platform

import (
	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/log"
)

// Info is everything the next stage needs to run without firmware queries.
type Info struct {
	MemoryMap   *MemoryMap
	Framebuffer Framebuffer
	ACPIRoot    efi.PhysAddr
	SystemTable efi.PhysAddr
}

// Collector queries firmware for platform Info.
type Collector struct {
	Boot        efi.BootServices
	SystemTable *efi.SystemTable
	Log         log.Logger
}

// Collect returns the platform Info. Only a memory map failure is fatal.
// The memory map is captured last so that its key is as fresh as possible
// when it is presented to ExitBootServices.
func (c *Collector) Collect() (*Info, error) {
	logger := log.Or(c.Log)
	info := &Info{}

	fb, err := QueryFramebuffer(c.Boot)
	if err != nil {
		logger.Warnf("Graphics Output not found or invalid, framebuffer unavailable: %v", err)
	} else {
		info.Framebuffer = fb
		logger.Infof("Framebuffer: %dx%d @ %v, stride %d, %d bpp", fb.Width, fb.Height, fb.Address, fb.Stride, fb.BitsPerPixel)
	}

	if c.SystemTable != nil {
		info.SystemTable = c.SystemTable.Address
		info.ACPIRoot = FindACPIRoot(c.SystemTable.Tables)
	}
	if info.ACPIRoot == 0 {
		logger.Warnf("ACPI RSDP pointer not found in configuration tables")
	} else {
		logger.Infof("ACPI RSDP found at %v", info.ACPIRoot)
	}

	mm, err := GetMemoryMap(c.Boot)
	if err != nil {
		logger.Errorf("Failed to get memory map: %v", err)
		return nil, err
	}
	info.MemoryMap = mm
	return info, nil
}
