// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootinfo

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/lblboot/pkg/efi"
)

// Validate checks the record for internal consistency and returns every
// problem found.
func (d *Descriptor) Validate() error {
	var result *multierror.Error
	if d.Magic != Magic {
		result = multierror.Append(result, fmt.Errorf("%w: %#x", ErrBadMagic, d.Magic))
	}
	if d.Version != Version {
		result = multierror.Append(result, fmt.Errorf("%w: %#x", ErrBadVersion, d.Version))
	}
	if int(d.HeaderSize) != Size {
		result = multierror.Append(result, fmt.Errorf("header size %d, expected %d", d.HeaderSize, Size))
	}
	if d.TotalSize < d.HeaderSize {
		result = multierror.Append(result, fmt.Errorf("total size %d is smaller than header size %d", d.TotalSize, d.HeaderSize))
	}
	if d.ImageLoadAddress == 0 || d.ImageSize == 0 {
		result = multierror.Append(result, fmt.Errorf("no image: address %#x, size %d", d.ImageLoadAddress, d.ImageSize))
	}
	if d.ImageEntryOffset >= d.ImageSize && d.ImageSize != 0 {
		result = multierror.Append(result, fmt.Errorf("entry offset %#x outside image of %d bytes", d.ImageEntryOffset, d.ImageSize))
	}
	if d.MemoryMapAddress == 0 {
		result = multierror.Append(result, fmt.Errorf("no memory map"))
	}
	if d.MemoryDescriptorSize < efi.MemoryDescriptorSize {
		result = multierror.Append(result, fmt.Errorf("descriptor size %d is smaller than %d", d.MemoryDescriptorSize, efi.MemoryDescriptorSize))
	} else {
		if d.MemoryMapSize%d.MemoryDescriptorSize != 0 {
			result = multierror.Append(result, fmt.Errorf("memory map size %d is not a multiple of the descriptor size %d", d.MemoryMapSize, d.MemoryDescriptorSize))
		}
		if uint64(d.MemoryMapEntries) != d.MemoryMapSize/d.MemoryDescriptorSize {
			result = multierror.Append(result, fmt.Errorf("%d entries recorded, map holds %d", d.MemoryMapEntries, d.MemoryMapSize/d.MemoryDescriptorSize))
		}
	}
	if d.HasFramebuffer() {
		if d.FramebufferWidth == 0 || d.FramebufferHeight == 0 {
			result = multierror.Append(result, fmt.Errorf("framebuffer at %#x has no geometry", d.FramebufferAddress))
		}
		if d.FramebufferBPP == 0 {
			result = multierror.Append(result, fmt.Errorf("framebuffer at %#x has no pixel depth", d.FramebufferAddress))
		}
		if uint64(d.FramebufferStride) < uint64(d.FramebufferWidth)*uint64(d.FramebufferBPP)/8 {
			result = multierror.Append(result, fmt.Errorf("framebuffer stride %d is shorter than a %d pixel line", d.FramebufferStride, d.FramebufferWidth))
		}
	}
	return result.ErrorOrNil()
}
