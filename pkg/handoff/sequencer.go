// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handoff drives stage 1: load the core image, collect platform
// information, build the boot info record, exit boot services and jump.
package handoff

import (
	"fmt"
	"time"

	"github.com/linuxboot/lblboot/pkg/bootinfo"
	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/loader"
	"github.com/linuxboot/lblboot/pkg/log"
	"github.com/linuxboot/lblboot/pkg/platform"
)

// Trampoline transfers control to entry with desc as the single argument,
// following the platform C calling convention (RDI on x86_64, X0 on
// AArch64). Jump must not return; if it does the sequencer idles.
type Trampoline interface {
	Jump(entry efi.PhysAddr, desc *bootinfo.Descriptor)
}

// Config is the sequencer policy.
type Config struct {
	// ImagePath is the CHAR16 path of the core image on the ESP.
	ImagePath string
	// EntryOffset is added to the load address to find the entry point.
	EntryOffset uint64
	// ExitRetries is how many times ExitBootServices is retried with a
	// re-read memory map. Zero tries once.
	ExitRetries int
	// FailureStall keeps the last message on screen before halting.
	FailureStall time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		ImagePath:    loader.DefaultPath,
		EntryOffset:  0,
		ExitRetries:  0,
		FailureStall: 5 * time.Second,
	}
}

// Sequencer runs one boot attempt. It is not safe for reuse.
type Sequencer struct {
	Context    *efi.Context
	Trampoline Trampoline
	Config     Config

	// Log defaults to a console logger on Context.
	Log log.Logger

	// Idle is entered when no firmware services remain and there is
	// nothing left to do. The default spins forever.
	Idle func()

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)

	state State
	desc  bootinfo.Descriptor
	image *loader.Image
	info  *platform.Info
}

// New returns a Sequencer with the default policy.
func New(ctx *efi.Context, tr Trampoline) *Sequencer {
	return &Sequencer{
		Context:    ctx,
		Trampoline: tr,
		Config:     DefaultConfig(),
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	return s.state
}

// Descriptor returns the record handed to the next stage. It is only
// meaningful once BuildDescriptor completed.
func (s *Sequencer) Descriptor() *bootinfo.Descriptor {
	return &s.desc
}

func idleForever() {
	for {
	}
}

func (s *Sequencer) logger() log.Logger {
	if s.Log == nil {
		s.Log = log.NewConsoleLogger(s.Context)
	}
	return s.Log
}

func (s *Sequencer) enter(next State) {
	if !s.state.canEnter(next) {
		panic(fmt.Sprintf("handoff: illegal transition %v -> %v", s.state, next))
	}
	prev := s.state
	s.state = next
	if s.OnTransition != nil {
		s.OnTransition(prev, next)
	}
}

func (s *Sequencer) idle() {
	if s.Idle != nil {
		s.Idle()
		return
	}
	idleForever()
}

// halt is the failure path while boot services are still up: print, stall,
// and hand the error back so the caller can return it to firmware.
func (s *Sequencer) halt(err error) error {
	failed := s.state
	s.enter(HaltFailure)
	herr := &HaltError{State: failed, Class: Classify(err), Err: err}
	s.logger().Errorf("%v", herr)
	s.logger().Errorf("Halting.")
	s.Context.Stall(s.Config.FailureStall)
	return herr
}

func (s *Sequencer) free(b *efi.Buffer) {
	if b == nil {
		return
	}
	if err := s.Context.FreePool(b); err != nil {
		s.logger().Warnf("Cannot free pool at %v: %v", b.Address, err)
	}
}

// Run performs the handoff. It only returns on failure: with a *HaltError
// before or at ExitBootServices, or with ErrEntryReturned if the next stage
// came back and Idle returned.
func (s *Sequencer) Run() error {
	if s.state != Init {
		return fmt.Errorf("handoff: sequencer already ran, state %v", s.state)
	}
	logger := s.logger()
	logger.Infof("Lionbootloader stage 1 initializing")

	s.enter(LocateAndLoadImage)
	ld := &loader.Loader{Boot: s.Context, Log: logger}
	img, err := ld.Load(s.Config.ImagePath)
	if err != nil {
		logger.Errorf("Failed to load core engine: %v", err)
		return s.halt(err)
	}
	s.image = img
	logger.Infof("Core engine loaded at %v (%d bytes)", img.Address(), img.Size)

	// The console may allocate, so nothing is printed between reading the
	// memory map and presenting its key.
	logger.Infof("Collecting platform info, then exiting boot services")
	s.enter(CollectPlatformInfo)
	col := &platform.Collector{Boot: s.Context, SystemTable: s.Context.SystemTable, Log: logger}
	info, err := col.Collect()
	if err != nil {
		s.free(img.Buffer)
		return s.halt(err)
	}
	s.info = info

	s.enter(BuildDescriptor)
	desc, err := bootinfo.Build(img, info, s.Config.EntryOffset)
	if err != nil {
		s.free(info.MemoryMap.Buffer)
		s.free(img.Buffer)
		return s.halt(err)
	}
	s.desc = *desc

	s.enter(ExitFirmwareServices)
	if err := s.exitBootServices(); err != nil {
		// Services may be half torn down: one last console line, no frees
		// and no stall. The buffers stay allocated while the machine stops.
		failed := s.state
		s.enter(HaltFailure)
		logger.Errorf("CRITICAL: ExitBootServices failed: %v", err)
		s.idle()
		return &HaltError{State: failed, Class: ClassIrrevocableTransition, Err: err}
	}

	s.enter(TransferControl)
	s.Trampoline.Jump(s.desc.EntryPoint(), &s.desc)
	s.idle()
	return ErrEntryReturned
}

// exitBootServices presents the captured key. With retries configured, a
// refused key is refreshed by re-reading the map into the same buffer,
// which is all firmware allows after a failed exit.
func (s *Sequencer) exitBootServices() error {
	mm := s.info.MemoryMap
	for attempt := 0; ; attempt++ {
		err := s.Context.Exit(s.desc.MemoryMapKey)
		if err == nil {
			return nil
		}
		if attempt >= s.Config.ExitRetries {
			return fmt.Errorf("%w after %d attempt(s): %v", ErrExitBootServices, attempt+1, err)
		}
		if rerr := mm.Refresh(s.Context); rerr != nil {
			return fmt.Errorf("%w: %v; re-reading the memory map failed: %v", ErrExitBootServices, err, rerr)
		}
		s.desc.SetMemoryMap(mm)
	}
}
