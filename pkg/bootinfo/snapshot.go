// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootinfo

import (
	"fmt"

	"github.com/linuxboot/lblboot/pkg/efi"
)

// Snapshot is a persisted handoff: the record followed by the memory map
// bytes it points to.
type Snapshot struct {
	Descriptor Descriptor
	MemoryMap  []byte
}

// MarshalBinary encodes the snapshot.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	if uint64(len(s.MemoryMap)) != s.Descriptor.MemoryMapSize {
		return nil, fmt.Errorf("snapshot holds %d memory map bytes, record says %d", len(s.MemoryMap), s.Descriptor.MemoryMapSize)
	}
	b, err := s.Descriptor.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(b, s.MemoryMap...), nil
}

// UnmarshalBinary decodes and validates the record header, then takes the
// memory map from the bytes after TotalSize.
func (s *Snapshot) UnmarshalBinary(b []byte) error {
	d, err := Parse(b)
	if err != nil {
		return err
	}
	rest := b[d.TotalSize:]
	if uint64(len(rest)) < d.MemoryMapSize {
		return fmt.Errorf("%w: snapshot has %d memory map bytes, record says %d", ErrTruncated, len(rest), d.MemoryMapSize)
	}
	s.Descriptor = *d
	s.MemoryMap = append([]byte(nil), rest[:d.MemoryMapSize]...)
	return nil
}

// Descriptors decodes the memory map held by the snapshot.
func (s *Snapshot) Descriptors() ([]efi.MemoryDescriptor, error) {
	return efi.DecodeMemoryMap(s.MemoryMap, s.Descriptor.MemoryMapSize, s.Descriptor.MemoryDescriptorSize)
}
