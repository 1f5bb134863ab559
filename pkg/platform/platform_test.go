// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/emu"
	"github.com/linuxboot/lblboot/pkg/log"
	"github.com/linuxboot/lblboot/pkg/platform"
)

func machine(t *testing.T, edit func(*emu.Config)) *emu.Machine {
	t.Helper()
	cfg := emu.DefaultConfig()
	if edit != nil {
		edit(&cfg)
	}
	m, err := emu.New(cfg)
	require.NoError(t, err)
	return m
}

// fixedMap reports a map of a fixed size and records allocations.
type fixedMap struct {
	*emu.Machine
	size, stride uint64
	calls        int
	allocated    []uint64
}

func (f *fixedMap) GetMemoryMap(dst []byte) (efi.MemoryMapInfo, error) {
	f.calls++
	info := efi.MemoryMapInfo{Size: f.size, Key: 0x77, DescriptorSize: f.stride, DescriptorVersion: 1}
	if uint64(len(dst)) < f.size {
		return info, efi.BufferTooSmall
	}
	return info, nil
}

func (f *fixedMap) AllocatePool(t efi.MemoryType, size uint64) (*efi.Buffer, error) {
	f.allocated = append(f.allocated, size)
	return f.Machine.AllocatePool(t, size)
}

func TestGetMemoryMapPadding(t *testing.T) {
	bs := &fixedMap{Machine: machine(t, nil), size: 512, stride: 48}
	mm, err := platform.GetMemoryMap(bs)
	require.NoError(t, err)

	require.Equal(t, 2, bs.calls)
	require.Len(t, bs.allocated, 1)
	require.GreaterOrEqual(t, bs.allocated[0], uint64(512+5*48))
	require.Equal(t, uint64(0x77), mm.Key)
	require.Equal(t, uint64(48), mm.DescriptorSize)
	require.Equal(t, uint64(512), mm.Size)
}

func TestGetMemoryMapStride(t *testing.T) {
	m := machine(t, func(c *emu.Config) { c.DescriptorSize = 56 })
	mm, err := platform.GetMemoryMap(m)
	require.NoError(t, err)
	require.Equal(t, uint64(56), mm.DescriptorSize)
	require.Equal(t, m.MapKey(), mm.Key)

	descs, err := mm.Descriptors()
	require.NoError(t, err)
	require.Equal(t, m.MemoryDescriptors(), descs)
	require.Equal(t, len(descs), mm.Len())

	// The map buffer itself is part of the map.
	var self bool
	for i := 0; i < mm.Len(); i++ {
		d, err := mm.Descriptor(i)
		require.NoError(t, err)
		if d.PhysicalStart == mm.Buffer.Address {
			self = true
			require.Equal(t, efi.LoaderData, d.Type)
		}
	}
	require.True(t, self)
	_, err = mm.Descriptor(mm.Len())
	require.Error(t, err)
}

func TestGetMemoryMapGrowth(t *testing.T) {
	// Growth plus the map buffer's own descriptor fits in the slack.
	m := machine(t, func(c *emu.Config) { c.Faults.MapGrowth = platform.MemoryMapSlack - 1 })
	_, err := platform.GetMemoryMap(m)
	require.NoError(t, err)

	m = machine(t, func(c *emu.Config) { c.Faults.MapGrowth = platform.MemoryMapSlack + 1 })
	_, err = platform.GetMemoryMap(m)
	require.ErrorIs(t, err, platform.ErrMemoryMapGrew)
	require.Empty(t, m.Outstanding())
}

func TestGetMemoryMapProbe(t *testing.T) {
	m := machine(t, func(c *emu.Config) { c.Faults.MapProbeStatus = "EFI_SUCCESS" })
	_, err := platform.GetMemoryMap(m)
	require.ErrorIs(t, err, platform.ErrUnexpectedSuccess)
	allocs, _ := m.Counts()
	require.Zero(t, allocs)

	m = machine(t, func(c *emu.Config) { c.Faults.MapProbeStatus = "EFI_INVALID_PARAMETER" })
	_, err = platform.GetMemoryMap(m)
	require.ErrorIs(t, err, efi.InvalidParameter)
	require.Empty(t, m.Outstanding())

	bs := &fixedMap{Machine: machine(t, nil), size: 512, stride: 32}
	_, err = platform.GetMemoryMap(bs)
	require.Error(t, err)
	require.Empty(t, bs.allocated)
}

func TestRefresh(t *testing.T) {
	m := machine(t, nil)
	mm, err := platform.GetMemoryMap(m)
	require.NoError(t, err)
	entries := mm.Len()

	_, err = m.AllocatePool(efi.BootServicesData, 100)
	require.NoError(t, err)
	require.NotEqual(t, m.MapKey(), mm.Key)
	require.NoError(t, mm.Refresh(m))
	require.Equal(t, m.MapKey(), mm.Key)
	require.Equal(t, entries+1, mm.Len())

	for i := 0; i < platform.MemoryMapSlack; i++ {
		_, err = m.AllocatePool(efi.BootServicesData, 100)
		require.NoError(t, err)
	}
	require.ErrorIs(t, mm.Refresh(m), platform.ErrMemoryMapGrew)
}

func gopWith(info efi.ModeInformation, base efi.PhysAddr) *efi.GraphicsOutput {
	return &efi.GraphicsOutput{Mode: &efi.GraphicsMode{Info: &info, FrameBufferBase: base, FrameBufferSize: 0x300000}}
}

func TestFramebufferFromMode(t *testing.T) {
	for _, tc := range []struct {
		name   string
		info   efi.ModeInformation
		base   efi.PhysAddr
		bpp    uint8
		stride uint32
		err    bool
	}{
		{
			name:   "bgr",
			info:   efi.ModeInformation{HorizontalResolution: 1024, VerticalResolution: 768, PixelsPerScanLine: 1024, PixelFormat: efi.PixelBlueGreenRedReserved8BitPerColor},
			base:   0x80000000,
			bpp:    32,
			stride: 4096,
		},
		{
			name:   "rgb_padded_line",
			info:   efi.ModeInformation{HorizontalResolution: 800, VerticalResolution: 600, PixelsPerScanLine: 832, PixelFormat: efi.PixelRedGreenBlueReserved8BitPerColor},
			base:   0x80000000,
			bpp:    32,
			stride: 3328,
		},
		{
			name: "bitmask_565",
			info: efi.ModeInformation{HorizontalResolution: 640, VerticalResolution: 480, PixelsPerScanLine: 640, PixelFormat: efi.PixelBitMask,
				PixelInformation: efi.PixelBitmask{RedMask: 0xf800, GreenMask: 0x07e0, BlueMask: 0x001f}},
			base:   0x80000000,
			bpp:    16,
			stride: 1280,
		},
		{
			name: "bitmask_24",
			info: efi.ModeInformation{HorizontalResolution: 640, VerticalResolution: 480, PixelsPerScanLine: 640, PixelFormat: efi.PixelBitMask,
				PixelInformation: efi.PixelBitmask{RedMask: 0xff0000, GreenMask: 0xff00, BlueMask: 0xff}},
			base:   0x80000000,
			bpp:    24,
			stride: 1920,
		},
		{
			name:   "unknown_format",
			info:   efi.ModeInformation{HorizontalResolution: 640, VerticalResolution: 480, PixelsPerScanLine: 640, PixelFormat: efi.PixelFormatMax},
			base:   0x80000000,
			bpp:    platform.DefaultBitsPerPixel,
			stride: 2560,
		},
		{
			name: "blt_only",
			info: efi.ModeInformation{HorizontalResolution: 640, VerticalResolution: 480, PixelFormat: efi.PixelBltOnly},
			base: 0x80000000,
			err:  true,
		},
		{
			name: "no_base",
			info: efi.ModeInformation{HorizontalResolution: 640, VerticalResolution: 480},
			err:  true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fb, err := platform.FramebufferFromMode(gopWith(tc.info, tc.base))
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, fb.Available())
			require.Equal(t, tc.bpp, fb.BitsPerPixel)
			require.Equal(t, tc.stride, fb.Stride)
			require.Equal(t, tc.info.HorizontalResolution, fb.Width)
			require.Equal(t, tc.info.VerticalResolution, fb.Height)
		})
	}

	_, err := platform.FramebufferFromMode(&efi.GraphicsOutput{})
	require.Error(t, err)
}

func TestFindACPIRoot(t *testing.T) {
	legacy := func(a efi.PhysAddr) efi.ConfigurationTable {
		return efi.ConfigurationTable{VendorGUID: efi.ACPITableGUID, VendorTable: a}
	}
	acpi20 := func(a efi.PhysAddr) efi.ConfigurationTable {
		return efi.ConfigurationTable{VendorGUID: efi.ACPI20TableGUID, VendorTable: a}
	}
	smbios := efi.ConfigurationTable{VendorGUID: efi.SMBIOSTableGUID, VendorTable: 0xf0000}

	for _, tc := range []struct {
		name   string
		tables []efi.ConfigurationTable
		want   efi.PhysAddr
	}{
		{"none", nil, 0},
		{"unrelated", []efi.ConfigurationTable{smbios}, 0},
		{"legacy_only", []efi.ConfigurationTable{smbios, legacy(0xe0000), legacy(0xe1000)}, 0xe0000},
		{"prefer_20", []efi.ConfigurationTable{legacy(0xe0000), acpi20(0x7f100000)}, 0x7f100000},
		{"first_20", []efi.ConfigurationTable{acpi20(0x1000), acpi20(0x2000)}, 0x1000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, platform.FindACPIRoot(tc.tables))
		})
	}
}

func TestCollect(t *testing.T) {
	m := machine(t, func(c *emu.Config) {
		c.Graphics = &emu.GraphicsConfig{Framebuffer: 0x80000000, Width: 1280, Height: 1024}
	})
	col := &platform.Collector{Boot: m, SystemTable: m.SystemTable(), Log: log.Nop}
	info, err := col.Collect()
	require.NoError(t, err)
	require.True(t, info.Framebuffer.Available())
	require.Equal(t, uint32(1280*4), info.Framebuffer.Stride)
	require.Equal(t, efi.PhysAddr(0x7f100000), info.ACPIRoot)
	require.Equal(t, m.SystemTable().Address, info.SystemTable)
	require.Equal(t, m.MapKey(), info.MemoryMap.Key)
}

func TestCollectDegraded(t *testing.T) {
	m := machine(t, func(c *emu.Config) { c.Tables = nil })
	col := &platform.Collector{Boot: m, SystemTable: m.SystemTable(), Log: log.Nop}
	info, err := col.Collect()
	require.NoError(t, err)
	require.False(t, info.Framebuffer.Available())
	require.Zero(t, info.ACPIRoot)
	require.NotNil(t, info.MemoryMap)

	m = machine(t, func(c *emu.Config) { c.Faults.MapProbeStatus = "EFI_DEVICE_ERROR" })
	col = &platform.Collector{Boot: m, SystemTable: m.SystemTable(), Log: log.Nop}
	_, err = col.Collect()
	require.ErrorIs(t, err, efi.DeviceError)
	require.Empty(t, m.Outstanding())
}
