// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emu is an in-process UEFI platform. It serves boot services,
// Simple File System volumes, Graphics Output and a console over Go memory,
// with fault injection for every firmware call the stage 1 loader makes.
package emu

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/linuxboot/fiano/pkg/bytes"
	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/spf13/afero"

	"github.com/linuxboot/lblboot/pkg/bios"
	"github.com/linuxboot/lblboot/pkg/efi"
)

// first handle value given to volumes
const volumeHandleBase efi.Handle = 0x7e100000

// Machine is an emulated platform. It is not safe for concurrent use.
type Machine struct {
	cfg Config

	st       *efi.SystemTable
	gop      *efi.GraphicsOutput
	volumes  []*volume
	handles  map[efi.Handle]*volume
	disks    bios.Drives
	console  io.Writer
	conBuf   strings.Builder
	stride   uint64
	faults   FaultConfig
	probed   bool
	exited   bool
	halted   bool
	stalled  time.Duration
	mapKey   uint64
	allocs   int
	frees    int
	openFile int

	// memory bookkeeping
	base   []efi.MemoryDescriptor
	arena  int
	top    efi.PhysAddr
	live   map[efi.PhysAddr]*efi.Buffer
	holes  []efi.MemoryDescriptor
	extra  []efi.MemoryDescriptor
	viols  []string
	jumps  chan *Handoff
	handed *Handoff
}

// New builds a machine from cfg.
func New(cfg Config) (*Machine, error) {
	m := &Machine{
		cfg:     cfg,
		handles: map[efi.Handle]*volume{},
		live:    map[efi.PhysAddr]*efi.Buffer{},
		disks:   bios.Drives{},
		faults:  cfg.Faults,
		stride:  cfg.DescriptorSize,
		mapKey:  1,
		arena:   -1,
	}
	if m.stride == 0 {
		m.stride = 48
	}
	if m.stride < efi.MemoryDescriptorSize {
		return nil, fmt.Errorf("descriptor size %d is smaller than %d", m.stride, efi.MemoryDescriptorSize)
	}
	if m.cfg.DescriptorVersion == 0 {
		m.cfg.DescriptorVersion = efi.MemoryDescriptorVersion
	}

	regions := cfg.Memory
	if len(regions) == 0 {
		regions = DefaultMemory()
	}
	for _, r := range regions {
		d, err := r.descriptor()
		if err != nil {
			return nil, err
		}
		m.base = append(m.base, d)
	}
	sort.Slice(m.base, func(i, j int) bool { return m.base[i].PhysicalStart < m.base[j].PhysicalStart })
	for i := 1; i < len(m.base); i++ {
		if region(m.base[i-1]).Intersect(region(m.base[i])) {
			return nil, fmt.Errorf("memory regions at %v and %v overlap", m.base[i-1].PhysicalStart, m.base[i].PhysicalStart)
		}
	}
	for i, d := range m.base {
		if d.Type != efi.ConventionalMemory {
			continue
		}
		if m.arena < 0 || d.NumberOfPages > m.base[m.arena].NumberOfPages {
			m.arena = i
		}
	}
	if m.arena >= 0 {
		m.top = m.base[m.arena].End()
	}

	m.st = &efi.SystemTable{
		Address:          efi.PhysAddr(cfg.SystemTable),
		FirmwareVendor:   cfg.FirmwareVendor,
		FirmwareRevision: cfg.FirmwareRevision,
		RuntimeServices:  efi.PhysAddr(cfg.RuntimeServices),
	}
	for _, tc := range cfg.Tables {
		t, err := tc.table()
		if err != nil {
			return nil, err
		}
		m.st.Tables = append(m.st.Tables, t)
	}

	if cfg.Graphics != nil {
		gop, err := cfg.Graphics.output()
		if err != nil {
			return nil, err
		}
		m.gop = gop
	}

	for i, vc := range cfg.Volumes {
		v, err := m.newVolume(vc)
		if err != nil {
			return nil, fmt.Errorf("volume %d: %w", i, err)
		}
		h := volumeHandleBase + efi.Handle(i)<<4
		m.volumes = append(m.volumes, v)
		m.handles[h] = v
	}

	for _, dc := range cfg.Disks {
		f, err := cfg.hostFs().Open(dc.Path)
		if err != nil {
			return nil, fmt.Errorf("disk %#x: %w", dc.Drive, err)
		}
		d, err := bios.NewDisk(f)
		if err != nil {
			return nil, fmt.Errorf("disk %#x: %w", dc.Drive, err)
		}
		m.disks[dc.Drive] = d
	}
	return m, nil
}

func (m *Machine) newVolume(vc VolumeConfig) (*volume, error) {
	fs := vc.FS
	if fs == nil {
		if vc.Root == "" {
			fs = afero.NewMemMapFs()
		} else {
			fs = afero.NewReadOnlyFs(afero.NewBasePathFs(m.cfg.hostFs(), vc.Root))
		}
	}
	v := &volume{m: m, name: vc.Name, fs: fs, shortRead: vc.ShortRead}
	var err error
	if v.openStatus, err = efi.ParseStatus(vc.OpenStatus); err != nil {
		return nil, err
	}
	if v.infoStatus, err = efi.ParseStatus(vc.InfoStatus); err != nil {
		return nil, err
	}
	return v, nil
}

// SetConsole sends console output to w instead of the internal buffer.
func (m *Machine) SetConsole(w io.Writer) {
	m.console = w
}

// ConsoleOutput returns what was printed while no writer was set.
func (m *Machine) ConsoleOutput() string {
	return m.conBuf.String()
}

// Context returns the firmware context a loaded image would receive.
func (m *Machine) Context() *efi.Context {
	return efi.NewContext(efi.Handle(m.cfg.ImageHandle), m.st, m, m)
}

// SystemTable returns the emulated EFI system table.
func (m *Machine) SystemTable() *efi.SystemTable {
	return m.st
}

// Exited reports whether ExitBootServices succeeded.
func (m *Machine) Exited() bool {
	return m.exited
}

// Halt stops the machine. It is meant as the sequencer's idle hook.
func (m *Machine) Halt() {
	m.halted = true
}

// Halted reports whether Halt was called.
func (m *Machine) Halted() bool {
	return m.halted
}

// Stalled returns the total time spent in Stall.
func (m *Machine) Stalled() time.Duration {
	return m.stalled
}

// MapKey returns the current memory map key.
func (m *Machine) MapKey() uint64 {
	return m.mapKey
}

// Violations lists boot-time calls made after ExitBootServices.
func (m *Machine) Violations() []string {
	return append([]string(nil), m.viols...)
}

// Outstanding returns the live pool allocations in address order.
func (m *Machine) Outstanding() []*efi.Buffer {
	out := make([]*efi.Buffer, 0, len(m.live))
	for _, b := range m.live {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Allocation returns the live allocation at addr.
func (m *Machine) Allocation(addr efi.PhysAddr) (*efi.Buffer, bool) {
	b, ok := m.live[addr]
	return b, ok
}

// Counts returns how many AllocatePool and FreePool calls succeeded.
func (m *Machine) Counts() (allocs, frees int) {
	return m.allocs, m.frees
}

// Volumes returns the volume names in enumeration order.
func (m *Machine) Volumes() []string {
	names := make([]string, len(m.volumes))
	for i, v := range m.volumes {
		names[i] = v.name
	}
	return names
}

// OpenFiles returns the number of file handles not closed yet.
func (m *Machine) OpenFiles() int {
	return m.openFile
}

// Disk returns the legacy sector reader for drive.
func (m *Machine) Disk(drive uint8) (bios.SectorReader, error) {
	if _, ok := m.disks[drive]; !ok {
		return nil, fmt.Errorf("%w: %#x", bios.ErrNoDrive, drive)
	}
	return m.disks, nil
}

func (m *Machine) violation(call string) bool {
	if !m.exited {
		return false
	}
	m.viols = append(m.viols, call)
	return true
}

func (m *Machine) touch() {
	m.mapKey++
}

// MemoryDescriptors returns the current memory map in address order.
func (m *Machine) MemoryDescriptors() []efi.MemoryDescriptor {
	var out []efi.MemoryDescriptor
	for i, d := range m.base {
		if i == m.arena {
			d.NumberOfPages = uint64(m.top-d.PhysicalStart) / efi.PageSize
			if d.NumberOfPages == 0 {
				continue
			}
		}
		out = append(out, d)
	}
	out = append(out, m.holes...)
	out = append(out, m.extra...)
	for _, b := range m.live {
		out = append(out, efi.MemoryDescriptor{
			Type:          b.Type,
			PhysicalStart: b.Address,
			NumberOfPages: pages(uint64(len(b.Bytes))),
			Attribute:     efi.MemoryWB,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhysicalStart < out[j].PhysicalStart })
	return out
}

func region(d efi.MemoryDescriptor) bytes.Range {
	return bytes.Range{Offset: uint64(d.PhysicalStart), Length: d.Size()}
}

func pages(size uint64) uint64 {
	n := (size + efi.PageSize - 1) / efi.PageSize
	if n == 0 {
		n = 1
	}
	return n
}

// carve takes n pages from the top of the arena.
func (m *Machine) carve(n uint64) (efi.PhysAddr, error) {
	if m.arena < 0 {
		return 0, efi.OutOfResources
	}
	size := efi.PhysAddr(n * efi.PageSize)
	if m.top-m.base[m.arena].PhysicalStart < size {
		return 0, efi.OutOfResources
	}
	m.top -= size
	return m.top, nil
}

func (m *Machine) allocate(memType efi.MemoryType, size uint64) (*efi.Buffer, error) {
	addr, err := m.carve(pages(size))
	if err != nil {
		return nil, err
	}
	b := &efi.Buffer{Address: addr, Type: memType, Bytes: make([]byte, size)}
	m.live[addr] = b
	m.allocs++
	m.touch()
	return b, nil
}

// AllocatePool implements efi.BootServices.
func (m *Machine) AllocatePool(memType efi.MemoryType, size uint64) (*efi.Buffer, error) {
	if m.violation("AllocatePool") {
		return nil, efi.Unsupported
	}
	if m.faults.FailAllocation > 0 && m.allocs+1 == m.faults.FailAllocation {
		m.faults.FailAllocation = 0
		return nil, efi.OutOfResources
	}
	return m.allocate(memType, size)
}

// FreePool implements efi.BootServices. Freed pages come back as
// conventional memory.
func (m *Machine) FreePool(b *efi.Buffer) error {
	if m.violation("FreePool") {
		return efi.Unsupported
	}
	if b == nil {
		return efi.InvalidParameter
	}
	live, ok := m.live[b.Address]
	if !ok || live != b {
		return efi.InvalidParameter
	}
	delete(m.live, b.Address)
	m.holes = append(m.holes, efi.MemoryDescriptor{
		Type:          efi.ConventionalMemory,
		PhysicalStart: b.Address,
		NumberOfPages: pages(uint64(len(b.Bytes))),
		Attribute:     efi.MemoryWB,
	})
	m.frees++
	m.touch()
	return nil
}

// grow adds n single-page boot services allocations behind the caller's
// back, the way a timer callback would.
func (m *Machine) grow(n int) {
	for i := 0; i < n; i++ {
		addr, err := m.carve(1)
		if err != nil {
			return
		}
		m.extra = append(m.extra, efi.MemoryDescriptor{
			Type:          efi.BootServicesData,
			PhysicalStart: addr,
			NumberOfPages: 1,
			Attribute:     efi.MemoryWB,
		})
	}
	m.touch()
}

// GetMemoryMap implements efi.BootServices.
func (m *Machine) GetMemoryMap(dst []byte) (efi.MemoryMapInfo, error) {
	if m.violation("GetMemoryMap") {
		return efi.MemoryMapInfo{}, efi.Unsupported
	}
	first := !m.probed
	m.probed = true

	descs := m.MemoryDescriptors()
	info := efi.MemoryMapInfo{
		Size:              uint64(len(descs)) * m.stride,
		Key:               m.mapKey,
		DescriptorSize:    m.stride,
		DescriptorVersion: m.cfg.DescriptorVersion,
	}
	if first && m.faults.MapProbeStatus != "" {
		st, err := efi.ParseStatus(m.faults.MapProbeStatus)
		if err != nil {
			return info, efi.DeviceError
		}
		return info, st.Err()
	}
	if uint64(len(dst)) < info.Size {
		if first && m.faults.MapGrowth > 0 {
			m.grow(m.faults.MapGrowth)
		}
		return info, efi.BufferTooSmall
	}
	for i, d := range descs {
		entry := dst[uint64(i)*m.stride : uint64(i+1)*m.stride]
		for j := range entry {
			entry[j] = 0
		}
		if err := d.Put(entry); err != nil {
			return info, efi.DeviceError
		}
	}
	return info, nil
}

// LocateHandleBuffer implements efi.BootServices.
func (m *Machine) LocateHandleBuffer(protocol guid.GUID) (*efi.HandleBuffer, error) {
	if m.violation("LocateHandleBuffer") {
		return nil, efi.Unsupported
	}
	if m.faults.LocateStatus != "" {
		st, err := efi.ParseStatus(m.faults.LocateStatus)
		if err != nil {
			return nil, efi.DeviceError
		}
		if err := st.Err(); err != nil {
			return nil, err
		}
	}
	if protocol != efi.SimpleFileSystemProtocolGUID {
		return nil, efi.NotFound
	}
	handles := make([]efi.Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, efi.NotFound
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	pool, err := m.allocate(efi.BootServicesData, uint64(len(handles))*8)
	if err != nil {
		return nil, err
	}
	return &efi.HandleBuffer{Handles: handles, Pool: pool}, nil
}

// OpenVolume implements efi.BootServices.
func (m *Machine) OpenVolume(h efi.Handle) (efi.File, error) {
	if m.violation("OpenVolume") {
		return nil, efi.Unsupported
	}
	v, ok := m.handles[h]
	if !ok {
		return nil, efi.InvalidParameter
	}
	if err := v.openStatus.Err(); err != nil {
		return nil, err
	}
	m.openFile++
	return &file{vol: v, path: "/", dir: true}, nil
}

// LocateGraphicsOutput implements efi.BootServices.
func (m *Machine) LocateGraphicsOutput() (*efi.GraphicsOutput, error) {
	if m.violation("LocateGraphicsOutput") {
		return nil, efi.Unsupported
	}
	if m.gop == nil {
		return nil, efi.NotFound
	}
	return m.gop, nil
}

// ExitBootServices implements efi.BootServices.
func (m *Machine) ExitBootServices(image efi.Handle, mapKey uint64) error {
	if m.violation("ExitBootServices") {
		return efi.InvalidParameter
	}
	if image != efi.Handle(m.cfg.ImageHandle) {
		return efi.InvalidParameter
	}
	if m.faults.ExitFailures > 0 {
		m.faults.ExitFailures--
		m.touch()
		return efi.InvalidParameter
	}
	if mapKey != m.mapKey {
		return efi.InvalidParameter
	}
	m.exited = true
	return nil
}

// Stall implements efi.BootServices. Time does not pass.
func (m *Machine) Stall(d time.Duration) {
	if m.violation("Stall") {
		return
	}
	m.stalled += d
}

// OutputString implements efi.Console.
func (m *Machine) OutputString(s string) error {
	if m.violation("OutputString") {
		return efi.Unsupported
	}
	if m.faults.ConsoleAllocates {
		m.touch()
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if m.console != nil {
		_, err := io.WriteString(m.console, s)
		if err != nil {
			return efi.DeviceError
		}
		return nil
	}
	m.conBuf.WriteString(s)
	return nil
}
