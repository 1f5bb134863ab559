// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"errors"
	"math/bits"

	"github.com/linuxboot/lblboot/pkg/efi"
)

// DefaultBitsPerPixel is assumed for pixel layouts that are not understood.
const DefaultBitsPerPixel = 32

// Framebuffer describes the linear framebuffer. A zero Address means there
// is none.
type Framebuffer struct {
	Address      efi.PhysAddr
	Size         uint64
	Width        uint32
	Height       uint32
	Stride       uint32 // bytes per scan line
	BitsPerPixel uint8
	PixelFormat  efi.PixelFormat
}

// Available reports whether a linear framebuffer was found.
func (fb Framebuffer) Available() bool {
	return fb.Address != 0
}

var errNoFramebuffer = errors.New("no linear framebuffer")

// FramebufferFromMode converts a Graphics Output mode into a Framebuffer.
func FramebufferFromMode(gop *efi.GraphicsOutput) (Framebuffer, error) {
	if gop == nil || gop.Mode == nil || gop.Mode.Info == nil {
		return Framebuffer{}, errors.New("graphics output mode is not populated")
	}
	mode := gop.Mode
	info := mode.Info
	if mode.FrameBufferBase == 0 {
		return Framebuffer{}, errNoFramebuffer
	}
	if info.PixelFormat == efi.PixelBltOnly {
		return Framebuffer{}, errors.New("graphics output is Blt-only")
	}
	bpp := bitsPerPixel(info)
	bytesPerPixel := (uint32(bpp) + 7) / 8
	return Framebuffer{
		Address:      mode.FrameBufferBase,
		Size:         mode.FrameBufferSize,
		Width:        info.HorizontalResolution,
		Height:       info.VerticalResolution,
		Stride:       info.PixelsPerScanLine * bytesPerPixel,
		BitsPerPixel: bpp,
		PixelFormat:  info.PixelFormat,
	}, nil
}

func bitsPerPixel(info *efi.ModeInformation) uint8 {
	switch info.PixelFormat {
	case efi.PixelRedGreenBlueReserved8BitPerColor, efi.PixelBlueGreenRedReserved8BitPerColor:
		return 32
	case efi.PixelBitMask:
		m := info.PixelInformation
		all := m.RedMask | m.GreenMask | m.BlueMask | m.ReservedMask
		if all == 0 {
			return DefaultBitsPerPixel
		}
		return uint8(bits.Len32(all))
	}
	return DefaultBitsPerPixel
}

// QueryFramebuffer looks up Graphics Output. Absence is reported through the
// error but is never fatal for the boot.
func QueryFramebuffer(bs efi.BootServices) (Framebuffer, error) {
	gop, err := bs.LocateGraphicsOutput()
	if err != nil {
		return Framebuffer{}, err
	}
	return FramebufferFromMode(gop)
}
