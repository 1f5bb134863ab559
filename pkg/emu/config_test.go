// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/lblboot/pkg/bios"
	"github.com/linuxboot/lblboot/pkg/efi"
)

const platformYAML = `
firmware_vendor: Test Firmware
descriptor_size: 56
memory:
  - type: ConventionalMemory
    start: 0x0
    pages: 0x9f
    attribute: 0xf
  - type: EfiConventionalMemory
    start: 0x100000
    pages: 0x3ff00
    attribute: 0xf
  - type: acpi_reclaim_memory
    start: 0x40000000
    pages: 0x10
volumes:
  - name: usb
    root: usb
  - name: esp
    root: esp
graphics:
  framebuffer: 0xc0000000
  width: 800
  height: 600
  pixels_per_scan_line: 832
  pixel_format: BitMask
  red_mask: 0xf800
  green_mask: 0x07e0
  blue_mask: 0x001f
tables:
  - guid: EB9D2D30-2D88-11D3-9A16-0090273FC14D
    address: 0x000e0000
  - guid: 8868E871-E4F1-11D3-BC22-0080C73C8881
    address: 0x40000000
disks:
  - drive: 0x80
    path: disk.img
faults:
  exit_failures: 2
`

func TestLoadConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/platform/platform.yaml", []byte(platformYAML), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/platform/esp/LBL/CORE/lbl_core.bin", []byte("core"), 0o644))
	require.NoError(t, fs.MkdirAll("/platform/usb", 0o755))
	disk := make([]byte, 4*bios.SectorSize)
	disk[bios.SectorSize] = 0x42
	require.NoError(t, afero.WriteFile(fs, "/platform/disk.img", disk, 0o644))

	cfg, err := LoadConfig(fs, "/platform/platform.yaml")
	require.NoError(t, err)
	require.Equal(t, "Test Firmware", cfg.FirmwareVendor)
	require.Equal(t, uint64(56), cfg.DescriptorSize)
	require.Equal(t, DefaultConfig().ImageHandle, cfg.ImageHandle)
	require.Len(t, cfg.Memory, 3)
	require.Equal(t, uint64(0x3ff00), cfg.Memory[1].Pages)
	require.Equal(t, "/platform/esp", cfg.Volumes[1].Root)
	require.Equal(t, uint8(0x80), cfg.Disks[0].Drive)
	require.Equal(t, 2, cfg.Faults.ExitFailures)
	require.NotNil(t, cfg.Graphics)
	require.Equal(t, uint32(832), cfg.Graphics.PixelsPerScanLine)

	m, err := New(*cfg)
	require.NoError(t, err)

	require.Len(t, m.SystemTable().Tables, 2)
	require.Equal(t, efi.ACPI20TableGUID, m.SystemTable().Tables[1].VendorGUID)

	gop, err := m.LocateGraphicsOutput()
	require.NoError(t, err)
	require.Equal(t, efi.PixelBitMask, gop.Mode.Info.PixelFormat)

	_, descs := readMap(t, m)
	require.Len(t, descs, 3)
	require.Equal(t, efi.ACPIReclaimMemory, descs[2].Type)

	hb, err := m.LocateHandleBuffer(efi.SimpleFileSystemProtocolGUID)
	require.NoError(t, err)
	root, err := m.OpenVolume(hb.Handles[1])
	require.NoError(t, err)
	path, _ := efi.EncodePath(`\LBL\CORE\lbl_core.bin`)
	f, err := root.Open(path, efi.FileModeRead)
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "core", string(buf[:n]))

	sr, err := m.Disk(0x80)
	require.NoError(t, err)
	sector := make([]byte, bios.SectorSize)
	require.NoError(t, sr.ReadSectors(0x80, 1, 1, sector))
	require.Equal(t, byte(0x42), sector[0])
	_, err = m.Disk(0x81)
	require.ErrorIs(t, err, bios.ErrNoDrive)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
}
