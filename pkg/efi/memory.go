// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efi

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PhysAddr is a physical address.
type PhysAddr uint64

func (a PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// PageSize is the size of an EFI page.
const PageSize = 4096

// MemoryType is an EFI_MEMORY_TYPE.
type MemoryType uint32

// Memory types, section 7.2.
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
	UnacceptedMemoryType
	maxMemoryType
)

var memoryTypeNames = [...]string{
	ReservedMemoryType:      "ReservedMemoryType",
	LoaderCode:              "LoaderCode",
	LoaderData:              "LoaderData",
	BootServicesCode:        "BootServicesCode",
	BootServicesData:        "BootServicesData",
	RuntimeServicesCode:     "RuntimeServicesCode",
	RuntimeServicesData:     "RuntimeServicesData",
	ConventionalMemory:      "ConventionalMemory",
	UnusableMemory:          "UnusableMemory",
	ACPIReclaimMemory:       "ACPIReclaimMemory",
	ACPIMemoryNVS:           "ACPIMemoryNVS",
	MemoryMappedIO:          "MemoryMappedIO",
	MemoryMappedIOPortSpace: "MemoryMappedIOPortSpace",
	PalCode:                 "PalCode",
	PersistentMemory:        "PersistentMemory",
	UnacceptedMemoryType:    "UnacceptedMemoryType",
}

func (t MemoryType) String() string {
	if t < maxMemoryType {
		return memoryTypeNames[t]
	}
	return fmt.Sprintf("MemoryType(%#x)", uint32(t))
}

// ParseMemoryType parses names such as "ConventionalMemory",
// "EfiConventionalMemory" or "conventional_memory".
func ParseMemoryType(name string) (MemoryType, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	n = strings.TrimPrefix(n, "efi")
	for t, tn := range memoryTypeNames {
		if strings.ToLower(tn) == n {
			return MemoryType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown memory type %q", name)
}

// Memory attributes.
const (
	MemoryUC      uint64 = 0x1
	MemoryWC      uint64 = 0x2
	MemoryWT      uint64 = 0x4
	MemoryWB      uint64 = 0x8
	MemoryUCE     uint64 = 0x10
	MemoryWP      uint64 = 0x1000
	MemoryRP      uint64 = 0x2000
	MemoryXP      uint64 = 0x4000
	MemoryNV      uint64 = 0x8000
	MemoryRuntime uint64 = 0x8000000000000000
)

const (
	// MemoryDescriptorSize is the size of the EFI_MEMORY_DESCRIPTOR fields
	// defined by UEFI. Firmware may report a larger stride.
	MemoryDescriptorSize = 40
	// MemoryDescriptorVersion is EFI_MEMORY_DESCRIPTOR_VERSION.
	MemoryDescriptorVersion = 1
)

// MemoryDescriptor is an EFI_MEMORY_DESCRIPTOR.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart PhysAddr
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// Size returns the length of the region in bytes.
func (d MemoryDescriptor) Size() uint64 {
	return d.NumberOfPages * PageSize
}

// End returns the first address past the region.
func (d MemoryDescriptor) End() PhysAddr {
	return d.PhysicalStart + PhysAddr(d.Size())
}

// Put encodes d into the first MemoryDescriptorSize bytes of b. Padding
// beyond that, up to the firmware stride, is left untouched.
func (d MemoryDescriptor) Put(b []byte) error {
	if len(b) < MemoryDescriptorSize {
		return fmt.Errorf("memory descriptor needs %d bytes, have %d", MemoryDescriptorSize, len(b))
	}
	binary.LittleEndian.PutUint32(b[0:], uint32(d.Type))
	binary.LittleEndian.PutUint32(b[4:], 0)
	binary.LittleEndian.PutUint64(b[8:], uint64(d.PhysicalStart))
	binary.LittleEndian.PutUint64(b[16:], d.VirtualStart)
	binary.LittleEndian.PutUint64(b[24:], d.NumberOfPages)
	binary.LittleEndian.PutUint64(b[32:], d.Attribute)
	return nil
}

// ReadMemoryDescriptor decodes one descriptor from the start of b.
func ReadMemoryDescriptor(b []byte) (MemoryDescriptor, error) {
	if len(b) < MemoryDescriptorSize {
		return MemoryDescriptor{}, fmt.Errorf("memory descriptor needs %d bytes, have %d", MemoryDescriptorSize, len(b))
	}
	return MemoryDescriptor{
		Type:          MemoryType(binary.LittleEndian.Uint32(b[0:])),
		PhysicalStart: PhysAddr(binary.LittleEndian.Uint64(b[8:])),
		VirtualStart:  binary.LittleEndian.Uint64(b[16:]),
		NumberOfPages: binary.LittleEndian.Uint64(b[24:]),
		Attribute:     binary.LittleEndian.Uint64(b[32:]),
	}, nil
}

// DecodeMemoryMap walks size bytes of buf in steps of stride. The stride is
// the one reported by GetMemoryMap and must never be replaced by
// MemoryDescriptorSize.
func DecodeMemoryMap(buf []byte, size, stride uint64) ([]MemoryDescriptor, error) {
	if stride < MemoryDescriptorSize {
		return nil, fmt.Errorf("descriptor stride %d is smaller than %d", stride, MemoryDescriptorSize)
	}
	if size > uint64(len(buf)) {
		return nil, fmt.Errorf("memory map size %d exceeds buffer of %d bytes", size, len(buf))
	}
	descs := make([]MemoryDescriptor, 0, size/stride)
	for off := uint64(0); off+stride <= size; off += stride {
		d, err := ReadMemoryDescriptor(buf[off : off+stride])
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}
