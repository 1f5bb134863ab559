// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/linuxboot/lblboot/pkg/efi"
)

// RegionConfig is one firmware memory map entry.
type RegionConfig struct {
	Type      string `mapstructure:"type"`
	Start     uint64 `mapstructure:"start"`
	Pages     uint64 `mapstructure:"pages"`
	Attribute uint64 `mapstructure:"attribute"`
}

// VolumeConfig is one Simple File System volume.
type VolumeConfig struct {
	Name string `mapstructure:"name"`
	// Root is a directory on the host, relative to the config file.
	Root string `mapstructure:"root"`
	// FS overrides Root. It is not read from config files.
	FS afero.Fs `mapstructure:"-"`

	// OpenStatus, if set, is returned by OpenVolume.
	OpenStatus string `mapstructure:"open_status"`
	// InfoStatus, if set, is returned by every GetInfo on a file of the
	// volume.
	InfoStatus string `mapstructure:"info_status"`
	// ShortRead drops this many bytes from the end of every file read.
	ShortRead int `mapstructure:"short_read"`
}

// GraphicsConfig is the current Graphics Output mode.
type GraphicsConfig struct {
	Framebuffer       uint64 `mapstructure:"framebuffer"`
	FramebufferSize   uint64 `mapstructure:"framebuffer_size"`
	Width             uint32 `mapstructure:"width"`
	Height            uint32 `mapstructure:"height"`
	PixelsPerScanLine uint32 `mapstructure:"pixels_per_scan_line"`
	PixelFormat       string `mapstructure:"pixel_format"`
	RedMask           uint32 `mapstructure:"red_mask"`
	GreenMask         uint32 `mapstructure:"green_mask"`
	BlueMask          uint32 `mapstructure:"blue_mask"`
	ReservedMask      uint32 `mapstructure:"reserved_mask"`
}

// TableConfig is an EFI configuration table entry.
type TableConfig struct {
	GUID    string `mapstructure:"guid"`
	Address uint64 `mapstructure:"address"`
}

// DiskConfig attaches a raw image as a BIOS drive.
type DiskConfig struct {
	Drive uint8  `mapstructure:"drive"`
	Path  string `mapstructure:"path"`
}

// FaultConfig injects firmware misbehaviour.
type FaultConfig struct {
	// LocateStatus is returned by LocateHandleBuffer.
	LocateStatus string `mapstructure:"locate_status"`
	// MapProbeStatus replaces the result of the first GetMemoryMap call.
	MapProbeStatus string `mapstructure:"map_probe_status"`
	// MapGrowth descriptors appear right after the first sizing probe.
	MapGrowth int `mapstructure:"map_growth"`
	// ExitFailures is how many ExitBootServices calls are refused before
	// the key is honoured. Each refusal also changes the map key.
	ExitFailures int `mapstructure:"exit_failures"`
	// FailAllocation makes the n-th AllocatePool (1-based) fail.
	FailAllocation int `mapstructure:"fail_allocation"`
	// ConsoleAllocates makes every OutputString change the map key, as
	// firmware whose text output allocates.
	ConsoleAllocates bool `mapstructure:"console_allocates"`
}

// Config describes an emulated platform.
type Config struct {
	ImageHandle       uint64 `mapstructure:"image_handle"`
	SystemTable       uint64 `mapstructure:"system_table"`
	RuntimeServices   uint64 `mapstructure:"runtime_services"`
	FirmwareVendor    string `mapstructure:"firmware_vendor"`
	FirmwareRevision  uint32 `mapstructure:"firmware_revision"`
	DescriptorSize    uint64 `mapstructure:"descriptor_size"`
	DescriptorVersion uint32 `mapstructure:"descriptor_version"`

	Memory   []RegionConfig  `mapstructure:"memory"`
	Volumes  []VolumeConfig  `mapstructure:"volumes"`
	Graphics *GraphicsConfig `mapstructure:"graphics"`
	Tables   []TableConfig   `mapstructure:"tables"`
	Disks    []DiskConfig    `mapstructure:"disks"`
	Faults   FaultConfig     `mapstructure:"faults"`

	// fs resolves volume roots and disk paths; the OS filesystem if nil.
	fs afero.Fs
}

// DefaultMemory is a small PC: low memory, the legacy hole, 2 GiB of RAM
// with firmware runtime and ACPI regions on top, and the IOAPIC window.
func DefaultMemory() []RegionConfig {
	return []RegionConfig{
		{Type: "ConventionalMemory", Start: 0x0, Pages: 0xa0, Attribute: efi.MemoryWB},
		{Type: "ReservedMemoryType", Start: 0xa0000, Pages: 0x60, Attribute: efi.MemoryUC},
		{Type: "ConventionalMemory", Start: 0x100000, Pages: 0x7ef00, Attribute: efi.MemoryWB},
		{Type: "RuntimeServicesCode", Start: 0x7f000000, Pages: 0x80, Attribute: efi.MemoryWB | efi.MemoryRuntime},
		{Type: "RuntimeServicesData", Start: 0x7f080000, Pages: 0x80, Attribute: efi.MemoryWB | efi.MemoryRuntime},
		{Type: "ACPIReclaimMemory", Start: 0x7f100000, Pages: 0x10, Attribute: efi.MemoryWB},
		{Type: "ACPIMemoryNVS", Start: 0x7f110000, Pages: 0x10, Attribute: efi.MemoryWB},
		{Type: "MemoryMappedIO", Start: 0xfec00000, Pages: 0x1, Attribute: efi.MemoryUC | efi.MemoryRuntime},
	}
}

// DefaultConfig returns a platform with DefaultMemory, an ACPI 2.0 table and
// no volumes.
func DefaultConfig() Config {
	return Config{
		ImageHandle:       0x7e000000,
		SystemTable:       0x7f088000,
		RuntimeServices:   0x7f089000,
		FirmwareVendor:    "LinuxBoot Emulated Firmware",
		FirmwareRevision:  0x00010000,
		DescriptorSize:    48,
		DescriptorVersion: efi.MemoryDescriptorVersion,
		Memory:            DefaultMemory(),
		Tables: []TableConfig{
			{GUID: efi.ACPI20TableGUID.String(), Address: 0x7f100000},
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("image_handle", def.ImageHandle)
	v.SetDefault("system_table", def.SystemTable)
	v.SetDefault("runtime_services", def.RuntimeServices)
	v.SetDefault("firmware_vendor", def.FirmwareVendor)
	v.SetDefault("firmware_revision", def.FirmwareRevision)
	v.SetDefault("descriptor_size", def.DescriptorSize)
	v.SetDefault("descriptor_version", def.DescriptorVersion)
}

// LoadConfig reads a platform description (YAML, JSON or TOML, by extension)
// from fs. Volume roots and disk paths are resolved relative to the file.
// Settings may be overridden by LBLEMU_* environment variables.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	setDefaults(v)
	v.SetEnvPrefix("LBLEMU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading platform config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode platform config %s: %w", path, err)
	}
	if len(cfg.Memory) == 0 {
		cfg.Memory = DefaultMemory()
	}

	dir := filepath.Dir(path)
	for i := range cfg.Volumes {
		if r := cfg.Volumes[i].Root; r != "" && !filepath.IsAbs(r) {
			cfg.Volumes[i].Root = filepath.Join(dir, r)
		}
	}
	for i := range cfg.Disks {
		if p := cfg.Disks[i].Path; p != "" && !filepath.IsAbs(p) {
			cfg.Disks[i].Path = filepath.Join(dir, p)
		}
	}
	cfg.fs = fs
	return &cfg, nil
}

func (c *Config) hostFs() afero.Fs {
	if c.fs == nil {
		return afero.NewOsFs()
	}
	return c.fs
}

func (r RegionConfig) descriptor() (efi.MemoryDescriptor, error) {
	t, err := efi.ParseMemoryType(r.Type)
	if err != nil {
		return efi.MemoryDescriptor{}, err
	}
	if r.Start%efi.PageSize != 0 {
		return efi.MemoryDescriptor{}, fmt.Errorf("region %s at %#x is not page aligned", r.Type, r.Start)
	}
	if r.Pages == 0 {
		return efi.MemoryDescriptor{}, fmt.Errorf("region %s at %#x is empty", r.Type, r.Start)
	}
	return efi.MemoryDescriptor{
		Type:          t,
		PhysicalStart: efi.PhysAddr(r.Start),
		NumberOfPages: r.Pages,
		Attribute:     r.Attribute,
	}, nil
}

func (t TableConfig) table() (efi.ConfigurationTable, error) {
	g, err := guid.Parse(t.GUID)
	if err != nil {
		return efi.ConfigurationTable{}, fmt.Errorf("configuration table %q: %w", t.GUID, err)
	}
	return efi.ConfigurationTable{VendorGUID: *g, VendorTable: efi.PhysAddr(t.Address)}, nil
}

func (g *GraphicsConfig) output() (*efi.GraphicsOutput, error) {
	pf, err := efi.ParsePixelFormat(g.PixelFormat)
	if err != nil {
		return nil, err
	}
	ppsl := g.PixelsPerScanLine
	if ppsl == 0 {
		ppsl = g.Width
	}
	size := g.FramebufferSize
	if size == 0 {
		size = uint64(ppsl) * uint64(g.Height) * 4
	}
	return &efi.GraphicsOutput{
		Mode: &efi.GraphicsMode{
			MaxMode: 1,
			Info: &efi.ModeInformation{
				HorizontalResolution: g.Width,
				VerticalResolution:   g.Height,
				PixelFormat:          pf,
				PixelInformation: efi.PixelBitmask{
					RedMask:      g.RedMask,
					GreenMask:    g.GreenMask,
					BlueMask:     g.BlueMask,
					ReservedMask: g.ReservedMask,
				},
				PixelsPerScanLine: ppsl,
			},
			FrameBufferBase: efi.PhysAddr(g.Framebuffer),
			FrameBufferSize: size,
		},
	}, nil
}
