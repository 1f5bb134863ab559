// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package handoff_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/lblboot/pkg/bootinfo"
	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/emu"
	"github.com/linuxboot/lblboot/pkg/handoff"
	"github.com/linuxboot/lblboot/pkg/loader"
	"github.com/linuxboot/lblboot/pkg/platform"
)

var payload = bytes.Repeat([]byte("LBLCORE!"), 512)

func esp(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/LBL/CORE/lbl_core.bin", payload, 0o644))
	return fs
}

type fixture struct {
	m           *emu.Machine
	seq         *handoff.Sequencer
	transitions []string
}

func newFixture(t *testing.T, edit func(*emu.Config)) *fixture {
	t.Helper()
	cfg := emu.DefaultConfig()
	cfg.Volumes = []emu.VolumeConfig{{Name: "esp", FS: esp(t)}}
	cfg.Graphics = &emu.GraphicsConfig{Framebuffer: 0x80000000, Width: 1024, Height: 768}
	if edit != nil {
		edit(&cfg)
	}
	m, err := emu.New(cfg)
	require.NoError(t, err)

	f := &fixture{m: m, seq: handoff.New(m.Context(), m)}
	f.seq.Idle = m.Halt
	f.seq.OnTransition = func(from, to handoff.State) {
		f.transitions = append(f.transitions, fmt.Sprintf("%v->%v", from, to))
	}
	return f
}

func requireHalt(t *testing.T, err error, state handoff.State, class handoff.Class) *handoff.HaltError {
	t.Helper()
	var herr *handoff.HaltError
	require.True(t, errors.As(err, &herr), "got %v", err)
	require.Equal(t, state, herr.State)
	require.Equal(t, class, herr.Class)
	return herr
}

func TestRunTransfersControl(t *testing.T) {
	f := newFixture(t, nil)
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)

	require.Equal(t, []string{
		"INIT->LOCATE_AND_LOAD_IMAGE",
		"LOCATE_AND_LOAD_IMAGE->COLLECT_PLATFORM_INFO",
		"COLLECT_PLATFORM_INFO->BUILD_DESCRIPTOR",
		"BUILD_DESCRIPTOR->EXIT_FIRMWARE_SERVICES",
		"EXIT_FIRMWARE_SERVICES->TRANSFER_CONTROL",
	}, f.transitions)
	require.Equal(t, handoff.TransferControl, f.seq.State())

	require.True(t, h.ServicesExited)
	require.Empty(t, f.m.Violations())
	require.Equal(t, payload, h.Image)

	d := h.Descriptor
	require.Equal(t, bootinfo.Magic, d.Magic)
	require.Equal(t, bootinfo.Version, d.Version)
	require.Equal(t, efi.PhysAddr(d.ImageLoadAddress), h.Entry)
	require.Equal(t, f.m.MapKey(), d.MemoryMapKey)
	require.Equal(t, uint64(1024*4), uint64(d.FramebufferStride))
	require.Equal(t, uint64(0x7f100000), d.ACPIRootPointer)
	require.Equal(t, uint64(f.m.SystemTable().Address), d.SystemTableAddress)

	// Image and memory map stay allocated for the next stage.
	require.Len(t, f.m.Outstanding(), 2)
	require.Zero(t, f.m.OpenFiles())

	descs, err := h.Snapshot().Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, int(d.MemoryMapEntries))
	var image, mmap bool
	for _, desc := range descs {
		switch uint64(desc.PhysicalStart) {
		case d.ImageLoadAddress:
			image = desc.Type == efi.LoaderData
		case d.MemoryMapAddress:
			mmap = desc.Type == efi.LoaderData
		}
	}
	require.True(t, image)
	require.True(t, mmap)

	out := f.m.ConsoleOutput()
	require.Contains(t, out, "[lbl][INFO] Lionbootloader stage 1 initializing\n")
	require.Contains(t, out, "then exiting boot services")
}

func TestRunConsoleAllocates(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.ConsoleAllocates = true })
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)
	require.True(t, h.ServicesExited)
	require.Equal(t, f.m.MapKey(), h.Descriptor.MemoryMapKey)
	require.Empty(t, f.m.Violations())
}

func TestRunWideDescriptors(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.DescriptorSize = 64 })
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)
	require.Equal(t, uint64(64), h.Descriptor.MemoryDescriptorSize)
	require.Zero(t, h.Descriptor.MemoryMapSize%64)
}

func TestRunWithoutGraphicsOrACPI(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) {
		c.Graphics = nil
		c.Tables = nil
	})
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)
	require.Equal(t, handoff.TransferControl, f.seq.State())
	require.False(t, h.Descriptor.HasFramebuffer())
	require.Zero(t, h.Descriptor.FramebufferWidth)
	require.Zero(t, h.Descriptor.ACPIRootPointer)
	require.Contains(t, f.m.ConsoleOutput(), "[lbl][WARN] Graphics Output not found")
}

func TestRunEntryOffset(t *testing.T) {
	f := newFixture(t, nil)
	f.seq.Config.EntryOffset = 0x200
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)
	require.Equal(t, efi.PhysAddr(h.Descriptor.ImageLoadAddress+0x200), h.Entry)
}

func TestRunImageMissing(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) {
		c.Volumes = []emu.VolumeConfig{{Name: "blank"}, {Name: "nomedia", OpenStatus: "EFI_NO_MEDIA"}}
	})
	_, err := f.m.Boot(f.seq)
	herr := requireHalt(t, err, handoff.LocateAndLoadImage, handoff.ClassNotFound)
	require.ErrorIs(t, herr, loader.ErrImageNotFound)

	require.Equal(t, handoff.HaltFailure, f.seq.State())
	require.Equal(t, "LOCATE_AND_LOAD_IMAGE->HALT_FAILURE", f.transitions[len(f.transitions)-1])
	require.Equal(t, 5*time.Second, f.m.Stalled())
	require.False(t, f.m.Exited())
	require.Nil(t, f.m.Handoff())
	require.Empty(t, f.m.Outstanding())
	require.Contains(t, f.m.ConsoleOutput(), "[lbl][ERROR] Failed to load core engine")
}

func TestRunNoFilesystem(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Volumes = nil })
	_, err := f.m.Boot(f.seq)
	requireHalt(t, err, handoff.LocateAndLoadImage, handoff.ClassNotFound)
	require.Empty(t, f.m.Outstanding())
}

func TestRunOutOfResources(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.FailAllocation = 2 })
	_, err := f.m.Boot(f.seq)
	requireHalt(t, err, handoff.LocateAndLoadImage, handoff.ClassResourceExhaustion)
	require.Empty(t, f.m.Outstanding())
}

func TestRunMemoryMapFailure(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.MapGrowth = platform.MemoryMapSlack + 2 })
	_, err := f.m.Boot(f.seq)
	herr := requireHalt(t, err, handoff.CollectPlatformInfo, handoff.ClassMalformedResponse)
	require.ErrorIs(t, herr, platform.ErrMemoryMapGrew)

	// The image buffer was released before halting.
	require.Empty(t, f.m.Outstanding())
	require.False(t, f.m.Exited())
}

func TestRunExitFailureIsIrrevocable(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.ExitFailures = 1 })
	_, err := f.m.Boot(f.seq)
	herr := requireHalt(t, err, handoff.ExitFirmwareServices, handoff.ClassIrrevocableTransition)
	require.ErrorIs(t, herr, handoff.ErrExitBootServices)

	require.Equal(t, handoff.HaltFailure, f.seq.State())
	require.True(t, f.m.Halted())
	require.Nil(t, f.m.Handoff())
	// Nothing is freed and no firmware call follows the failed exit.
	require.Len(t, f.m.Outstanding(), 2)
	require.Zero(t, f.m.Stalled())
	out := f.m.ConsoleOutput()
	require.Contains(t, out, "[lbl][ERROR] CRITICAL: ExitBootServices failed")
	require.NotContains(t, out, "Halting")
}

func TestRunExitRetry(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.ExitFailures = 2 })
	f.seq.Config.ExitRetries = 2
	allocsBefore, _ := f.m.Counts()
	h, err := f.m.Boot(f.seq)
	require.NoError(t, err)
	require.True(t, h.ServicesExited)
	require.Equal(t, f.m.MapKey(), h.Descriptor.MemoryMapKey)
	require.NoError(t, h.Descriptor.Validate())

	// handle buffer, file info, image, memory map
	allocs, _ := f.m.Counts()
	require.Equal(t, allocsBefore+4, allocs)
}

func TestRunExitRetryExhausted(t *testing.T) {
	f := newFixture(t, func(c *emu.Config) { c.Faults.ExitFailures = 3 })
	f.seq.Config.ExitRetries = 2
	_, err := f.m.Boot(f.seq)
	requireHalt(t, err, handoff.ExitFirmwareServices, handoff.ClassIrrevocableTransition)
	require.Contains(t, err.Error(), "after 3 attempt(s)")
	require.Empty(t, f.m.Violations())
}

func TestRunEntryReturns(t *testing.T) {
	f := newFixture(t, nil)
	err := f.seq.Run()
	require.ErrorIs(t, err, handoff.ErrEntryReturned)
	require.True(t, f.m.Halted())
	require.NotNil(t, f.m.Handoff())
	require.NoError(t, f.m.Handoff().Err)

	require.Error(t, f.seq.Run())
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want handoff.Class
	}{
		{nil, handoff.ClassUnknown},
		{errors.New("other"), handoff.ClassUnknown},
		{fmt.Errorf("x: %w", loader.ErrImageNotFound), handoff.ClassNotFound},
		{loader.ErrNoFilesystem, handoff.ClassNotFound},
		{fmt.Errorf("x: %w", loader.ErrCorruptFile), handoff.ClassMalformedResponse},
		{platform.ErrUnexpectedSuccess, handoff.ClassMalformedResponse},
		{fmt.Errorf("%w: %v", platform.ErrMemoryMapGrew, "need more"), handoff.ClassMalformedResponse},
		{&loader.DeviceError{Err: fmt.Errorf("alloc: %w", efi.OutOfResources)}, handoff.ClassResourceExhaustion},
		{fmt.Errorf("%w after 1 attempt(s)", handoff.ErrExitBootServices), handoff.ClassIrrevocableTransition},
	} {
		require.Equal(t, tc.want, handoff.Classify(tc.err), "%v", tc.err)
	}
}

func TestStateNames(t *testing.T) {
	require.Equal(t, "INIT", handoff.Init.String())
	require.Equal(t, "HALT_FAILURE", handoff.HaltFailure.String())
	require.Equal(t, "State(42)", handoff.State(42).String())
	require.Equal(t, "irrevocable-transition-failure", handoff.ClassIrrevocableTransition.String())
}
