// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"errors"
	"fmt"

	"github.com/linuxboot/lblboot/pkg/efi"
)

// MemoryMapSlack is how many extra descriptors are allocated on top of the
// size reported by the sizing probe. The allocation itself, and anything
// firmware does in between, can add entries.
const MemoryMapSlack = 5

var (
	// ErrUnexpectedSuccess means the sizing probe succeeded with a zero
	// sized buffer.
	ErrUnexpectedSuccess = errors.New("GetMemoryMap succeeded with an empty buffer")
	// ErrMemoryMapGrew means the map outgrew the padded buffer. There is
	// no further retry.
	ErrMemoryMapGrew = errors.New("memory map outgrew the padded buffer")
)

// MemoryMap is a snapshot of the firmware memory map held in pool memory.
// Descriptors must be indexed by DescriptorSize, never by the nominal
// descriptor size.
type MemoryMap struct {
	Buffer            *efi.Buffer
	Size              uint64
	Key               uint64
	DescriptorSize    uint64
	DescriptorVersion uint32
}

// Len returns the number of descriptors.
func (m *MemoryMap) Len() int {
	if m.DescriptorSize == 0 {
		return 0
	}
	return int(m.Size / m.DescriptorSize)
}

// Bytes returns the part of the buffer firmware filled.
func (m *MemoryMap) Bytes() []byte {
	return m.Buffer.Bytes[:m.Size]
}

// Descriptor decodes the i-th descriptor.
func (m *MemoryMap) Descriptor(i int) (efi.MemoryDescriptor, error) {
	if i < 0 || i >= m.Len() {
		return efi.MemoryDescriptor{}, fmt.Errorf("descriptor %d out of range [0, %d)", i, m.Len())
	}
	off := uint64(i) * m.DescriptorSize
	return efi.ReadMemoryDescriptor(m.Buffer.Bytes[off : off+m.DescriptorSize])
}

// Descriptors decodes the whole map.
func (m *MemoryMap) Descriptors() ([]efi.MemoryDescriptor, error) {
	return efi.DecodeMemoryMap(m.Buffer.Bytes, m.Size, m.DescriptorSize)
}

// GetMemoryMap captures the memory map. The first call uses an empty buffer
// to learn the size; the buffer is padded by MemoryMapSlack descriptors and
// the second call must fit. On failure nothing stays allocated.
func GetMemoryMap(bs efi.BootServices) (*MemoryMap, error) {
	probe, err := bs.GetMemoryMap(nil)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedSuccess, efi.DeviceError)
	case !errors.Is(err, efi.BufferTooSmall):
		return nil, fmt.Errorf("GetMemoryMap did not return %v on the sizing call: %w", efi.BufferTooSmall, err)
	}
	if probe.DescriptorSize < efi.MemoryDescriptorSize {
		return nil, fmt.Errorf("firmware reports descriptor size %d, need at least %d", probe.DescriptorSize, efi.MemoryDescriptorSize)
	}

	size := probe.Size + MemoryMapSlack*probe.DescriptorSize
	buf, err := bs.AllocatePool(efi.LoaderData, size)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes for the memory map: %w", size, err)
	}

	m := &MemoryMap{Buffer: buf}
	if err := m.Refresh(bs); err != nil {
		if ferr := bs.FreePool(buf); ferr != nil {
			return nil, fmt.Errorf("%w (and freeing the map buffer failed: %v)", err, ferr)
		}
		return nil, err
	}
	return m, nil
}

// Refresh re-reads the map into the existing buffer without allocating. It
// is the only call besides ExitBootServices that firmware permits after a
// failed ExitBootServices.
func (m *MemoryMap) Refresh(bs efi.BootServices) error {
	info, err := bs.GetMemoryMap(m.Buffer.Bytes)
	if errors.Is(err, efi.BufferTooSmall) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMemoryMapGrew, info.Size, m.Buffer.Size())
	}
	if err != nil {
		return fmt.Errorf("GetMemoryMap failed: %w", err)
	}
	if info.DescriptorSize < efi.MemoryDescriptorSize {
		return fmt.Errorf("firmware reports descriptor size %d, need at least %d", info.DescriptorSize, efi.MemoryDescriptorSize)
	}
	if info.Size > m.Buffer.Size() {
		return fmt.Errorf("firmware reports %d bytes written into a %d byte buffer", info.Size, m.Buffer.Size())
	}
	m.Size = info.Size
	m.Key = info.Key
	m.DescriptorSize = info.DescriptorSize
	m.DescriptorVersion = info.DescriptorVersion
	return nil
}
