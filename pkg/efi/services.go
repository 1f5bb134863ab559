// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efi

import (
	"errors"
	"time"

	"github.com/linuxboot/fiano/pkg/guid"
)

// Handle is an opaque EFI_HANDLE.
type Handle uint64

// Buffer is a pool allocation. Address is the physical address firmware
// handed out, Bytes is the memory behind it.
type Buffer struct {
	Address PhysAddr
	Type    MemoryType
	Bytes   []byte
}

// Size returns the allocation size in bytes.
func (b *Buffer) Size() uint64 {
	if b == nil {
		return 0
	}
	return uint64(len(b.Bytes))
}

// HandleBuffer is the result of LocateHandleBuffer. Pool holds the handle
// array and must be returned with FreePool.
type HandleBuffer struct {
	Handles []Handle
	Pool    *Buffer
}

// MemoryMapInfo is what GetMemoryMap reports besides the descriptors.
// On BufferTooSmall, Size is the required size.
type MemoryMapInfo struct {
	Size              uint64
	Key               uint64
	DescriptorSize    uint64
	DescriptorVersion uint32
}

// ConfigurationTable is an EFI_CONFIGURATION_TABLE entry.
type ConfigurationTable struct {
	VendorGUID  guid.GUID
	VendorTable PhysAddr
}

// SystemTable is the part of EFI_SYSTEM_TABLE the loader uses.
type SystemTable struct {
	// Address of EFI_SYSTEM_TABLE itself; handed on so the next stage can
	// reach runtime services.
	Address          PhysAddr
	FirmwareVendor   string
	FirmwareRevision uint32
	RuntimeServices  PhysAddr
	Tables           []ConfigurationTable
}

// File is EFI_FILE_PROTOCOL.
type File interface {
	// Open opens a file relative to this one. path is a NUL-terminated
	// CHAR16 string, see EncodePath.
	Open(path []byte, mode uint64) (File, error)

	// GetInfo fills dst with the information block identified by infoType
	// and returns its size. If dst is too small it returns BufferTooSmall
	// together with the required size.
	GetInfo(infoType guid.GUID, dst []byte) (uint64, error)

	// Read reads up to len(dst) bytes and returns how many were read.
	Read(dst []byte) (int, error)

	Close() error
}

// Console is EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.OutputString.
type Console interface {
	OutputString(s string) error
}

// BootServices are the EFI_BOOT_SERVICES the loader calls. All of them
// become invalid once ExitBootServices succeeds.
type BootServices interface {
	AllocatePool(memType MemoryType, size uint64) (*Buffer, error)
	FreePool(b *Buffer) error

	// GetMemoryMap writes the current map into dst. A nil or short dst
	// yields BufferTooSmall with the required size in MemoryMapInfo.Size.
	GetMemoryMap(dst []byte) (MemoryMapInfo, error)

	LocateHandleBuffer(protocol guid.GUID) (*HandleBuffer, error)

	// OpenVolume opens the root directory of the Simple File System on h.
	OpenVolume(h Handle) (File, error)

	// LocateGraphicsOutput returns the first Graphics Output instance, or
	// NotFound.
	LocateGraphicsOutput() (*GraphicsOutput, error)

	ExitBootServices(image Handle, mapKey uint64) error

	Stall(d time.Duration)
}

// ErrBootServicesExited is returned by a Context after ExitBootServices
// succeeded.
var ErrBootServicesExited = errors.New("boot services are no longer available")

// Context bundles the firmware services for a single boot attempt. It
// implements BootServices and Console, and refuses every boot-time call once
// ExitBootServices has succeeded.
type Context struct {
	ImageHandle Handle
	SystemTable *SystemTable

	boot    BootServices
	console Console
	exited  bool
}

var (
	_ BootServices = (*Context)(nil)
	_ Console      = (*Context)(nil)
)

// NewContext returns a Context for image. console may be nil.
func NewContext(image Handle, st *SystemTable, bs BootServices, console Console) *Context {
	if st == nil {
		st = &SystemTable{}
	}
	return &Context{
		ImageHandle: image,
		SystemTable: st,
		boot:        bs,
		console:     console,
	}
}

// Exited reports whether ExitBootServices succeeded.
func (c *Context) Exited() bool {
	return c.exited
}

// AllocatePool implements BootServices.
func (c *Context) AllocatePool(memType MemoryType, size uint64) (*Buffer, error) {
	if c.exited {
		return nil, ErrBootServicesExited
	}
	return c.boot.AllocatePool(memType, size)
}

// FreePool implements BootServices.
func (c *Context) FreePool(b *Buffer) error {
	if c.exited {
		return ErrBootServicesExited
	}
	return c.boot.FreePool(b)
}

// GetMemoryMap implements BootServices.
func (c *Context) GetMemoryMap(dst []byte) (MemoryMapInfo, error) {
	if c.exited {
		return MemoryMapInfo{}, ErrBootServicesExited
	}
	return c.boot.GetMemoryMap(dst)
}

// LocateHandleBuffer implements BootServices.
func (c *Context) LocateHandleBuffer(protocol guid.GUID) (*HandleBuffer, error) {
	if c.exited {
		return nil, ErrBootServicesExited
	}
	return c.boot.LocateHandleBuffer(protocol)
}

// OpenVolume implements BootServices.
func (c *Context) OpenVolume(h Handle) (File, error) {
	if c.exited {
		return nil, ErrBootServicesExited
	}
	return c.boot.OpenVolume(h)
}

// LocateGraphicsOutput implements BootServices.
func (c *Context) LocateGraphicsOutput() (*GraphicsOutput, error) {
	if c.exited {
		return nil, ErrBootServicesExited
	}
	return c.boot.LocateGraphicsOutput()
}

// ExitBootServices implements BootServices. The image argument is ignored in
// favour of the Context's own image handle.
func (c *Context) ExitBootServices(_ Handle, mapKey uint64) error {
	return c.Exit(mapKey)
}

// Exit asks firmware to tear down boot services for this image. On success
// the Context is invalidated.
func (c *Context) Exit(mapKey uint64) error {
	if c.exited {
		return ErrBootServicesExited
	}
	if err := c.boot.ExitBootServices(c.ImageHandle, mapKey); err != nil {
		return err
	}
	c.exited = true
	return nil
}

// Stall implements BootServices. It does nothing after exit.
func (c *Context) Stall(d time.Duration) {
	if c.exited {
		return
	}
	c.boot.Stall(d)
}

// OutputString implements Console. Output is dropped after exit or when the
// Context has no console.
func (c *Context) OutputString(s string) error {
	if c.exited || c.console == nil {
		return nil
	}
	return c.console.OutputString(s)
}
