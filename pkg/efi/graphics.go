// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efi

import (
	"fmt"
)

// PixelFormat is EFI_GRAPHICS_PIXEL_FORMAT.
type PixelFormat uint32

// Pixel formats, section 12.9.
const (
	PixelRedGreenBlueReserved8BitPerColor PixelFormat = iota
	PixelBlueGreenRedReserved8BitPerColor
	PixelBitMask
	PixelBltOnly
	PixelFormatMax
)

var pixelFormatNames = map[PixelFormat]string{
	PixelRedGreenBlueReserved8BitPerColor: "RGBX8888",
	PixelBlueGreenRedReserved8BitPerColor: "BGRX8888",
	PixelBitMask:                          "BitMask",
	PixelBltOnly:                          "BltOnly",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", uint32(f))
}

// ParsePixelFormat accepts the names returned by String, plus "rgb" and "bgr".
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch name {
	case "rgb", "RGB":
		return PixelRedGreenBlueReserved8BitPerColor, nil
	case "bgr", "BGR", "":
		return PixelBlueGreenRedReserved8BitPerColor, nil
	}
	for f, n := range pixelFormatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", name)
}

// PixelBitmask is EFI_PIXEL_BITMASK.
type PixelBitmask struct {
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
	ReservedMask uint32
}

// ModeInformation is EFI_GRAPHICS_OUTPUT_MODE_INFORMATION.
type ModeInformation struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          PixelFormat
	PixelInformation     PixelBitmask
	PixelsPerScanLine    uint32
}

// GraphicsMode is EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE.
type GraphicsMode struct {
	MaxMode         uint32
	Mode            uint32
	Info            *ModeInformation
	FrameBufferBase PhysAddr
	FrameBufferSize uint64
}

// GraphicsOutput is the part of EFI_GRAPHICS_OUTPUT_PROTOCOL the loader reads.
type GraphicsOutput struct {
	Mode *GraphicsMode
}
