// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bootinfo implements the LBL boot information record that stage 1
// hands to the core engine.
//
// The record is little endian and matches the natural C layout on x86_64
// and AArch64, so the receiving image can overlay a #[repr(C)] struct on it.
package bootinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/loader"
	"github.com/linuxboot/lblboot/pkg/platform"
)

// Layout identification.
const (
	Magic   uint64 = 0x4C424C42494E464F // "LBLBINFO"
	Version uint32 = 0x00010000         // 1.0
)

var (
	// ErrNilArgument is a programming error: Build needs an image and
	// platform info with a memory map.
	ErrNilArgument = errors.New("nil argument")
	// ErrBadMagic means the record does not start with Magic.
	ErrBadMagic = errors.New("bad boot info magic")
	// ErrBadVersion means the record has an unsupported layout version.
	ErrBadVersion = errors.New("unsupported boot info version")
	// ErrTruncated means fewer bytes than the header announces.
	ErrTruncated = errors.New("truncated boot info")
)

// Header identifies and sizes the record.
type Header struct {
	Magic      uint64
	Version    uint32
	HeaderSize uint32
	TotalSize  uint32
	Reserved0  uint32
}

// Descriptor is LBL_BOOT_INFO.
type Descriptor struct {
	Header

	ImageLoadAddress uint64
	ImageSize        uint64
	ImageEntryOffset uint64

	MemoryMapAddress        uint64
	MemoryMapSize           uint64
	MemoryMapKey            uint64
	MemoryDescriptorSize    uint64
	MemoryDescriptorVersion uint32
	MemoryMapEntries        uint32

	FramebufferAddress     uint64
	FramebufferSize        uint64
	FramebufferWidth       uint32
	FramebufferHeight      uint32
	FramebufferStride      uint32
	FramebufferBPP         uint8
	FramebufferPixelFormat uint8
	ReservedGraphics       uint16

	ACPIRootPointer    uint64
	SystemTableAddress uint64

	Reserved1 uint64
	Reserved2 uint64
}

// Size is the encoded size of Descriptor.
var Size = binary.Size(Descriptor{})

// Build assembles a Descriptor from the loaded image and platform info. It
// performs no I/O.
func Build(img *loader.Image, info *platform.Info, entryOffset uint64) (*Descriptor, error) {
	if img == nil || img.Buffer == nil || info == nil || info.MemoryMap == nil || info.MemoryMap.Buffer == nil {
		return nil, ErrNilArgument
	}
	d := &Descriptor{}
	d.Magic = Magic
	d.Version = Version
	d.HeaderSize = uint32(Size)
	d.TotalSize = uint32(Size)

	d.ImageLoadAddress = uint64(img.Address())
	d.ImageSize = img.Size
	d.ImageEntryOffset = entryOffset

	d.SetMemoryMap(info.MemoryMap)

	fb := info.Framebuffer
	if fb.Available() {
		d.FramebufferAddress = uint64(fb.Address)
		d.FramebufferSize = fb.Size
		d.FramebufferWidth = fb.Width
		d.FramebufferHeight = fb.Height
		d.FramebufferStride = fb.Stride
		d.FramebufferBPP = fb.BitsPerPixel
		d.FramebufferPixelFormat = uint8(fb.PixelFormat)
	}

	d.ACPIRootPointer = uint64(info.ACPIRoot)
	d.SystemTableAddress = uint64(info.SystemTable)
	return d, nil
}

// SetMemoryMap copies the memory map fields from m.
func (d *Descriptor) SetMemoryMap(m *platform.MemoryMap) {
	d.MemoryMapAddress = uint64(m.Buffer.Address)
	d.MemoryMapSize = m.Size
	d.MemoryMapKey = m.Key
	d.MemoryDescriptorSize = m.DescriptorSize
	d.MemoryDescriptorVersion = m.DescriptorVersion
	d.MemoryMapEntries = uint32(m.Len())
}

// EntryPoint returns the address execution starts at.
func (d *Descriptor) EntryPoint() efi.PhysAddr {
	return efi.PhysAddr(d.ImageLoadAddress + d.ImageEntryOffset)
}

// HasFramebuffer reports whether a framebuffer is described.
func (d *Descriptor) HasFramebuffer() bool {
	return d.FramebufferAddress != 0
}

// MarshalBinary encodes the record.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(Size)
	if err := binary.Write(&buf, binary.LittleEndian, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record without validating it.
func (d *Descriptor) UnmarshalBinary(b []byte) error {
	if len(b) < Size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(b), Size)
	}
	return binary.Read(bytes.NewReader(b[:Size]), binary.LittleEndian, d)
}

// Parse decodes a record the way the receiving image must: magic and version
// are checked before any other field is trusted.
func Parse(b []byte) (*Descriptor, error) {
	var hdr Header
	if len(b) < binary.Size(hdr) {
		return nil, fmt.Errorf("%w: have %d bytes", ErrTruncated, len(b))
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, hdr.Magic)
	}
	if hdr.Version>>16 != Version>>16 {
		return nil, fmt.Errorf("%w: %#x", ErrBadVersion, hdr.Version)
	}
	if int(hdr.HeaderSize) < Size || uint64(hdr.TotalSize) < uint64(hdr.HeaderSize) {
		return nil, fmt.Errorf("%w: header size %d, total size %d", ErrTruncated, hdr.HeaderSize, hdr.TotalSize)
	}
	if uint64(len(b)) < uint64(hdr.TotalSize) {
		return nil, fmt.Errorf("%w: have %d bytes, record says %d", ErrTruncated, len(b), hdr.TotalSize)
	}
	d := &Descriptor{}
	if err := d.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return d, nil
}
