// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/linuxboot/fiano/pkg/bytes"

	"github.com/linuxboot/lblboot/pkg/bootinfo"
	"github.com/linuxboot/lblboot/pkg/efi"
)

// ErrNoHandoff means the boot ended without a jump to the next stage.
var ErrNoHandoff = errors.New("boot ended without transferring control")

// Handoff is what the next stage received.
type Handoff struct {
	Entry efi.PhysAddr
	// Descriptor is the record as decoded from Raw by bootinfo.Parse.
	Descriptor bootinfo.Descriptor
	Raw        []byte
	Image      []byte
	MemoryMap  []byte
	// ServicesExited is whether ExitBootServices had succeeded at the jump.
	ServicesExited bool
	// Err lists everything the receiving image would reject.
	Err error
}

// Snapshot returns the record together with the memory map bytes.
func (h *Handoff) Snapshot() *bootinfo.Snapshot {
	return &bootinfo.Snapshot{
		Descriptor: h.Descriptor,
		MemoryMap:  append([]byte(nil), h.MemoryMap...),
	}
}

// Runner is a boot attempt, such as a *handoff.Sequencer.
type Runner interface {
	Run() error
}

// Handoff returns the last captured handoff, or nil.
func (m *Machine) Handoff() *Handoff {
	return m.handed
}

// Jump implements handoff.Trampoline. It checks the record the way the core
// engine does at its entry point. When driven through Boot the calling
// goroutine ends here; otherwise Jump returns.
func (m *Machine) Jump(entry efi.PhysAddr, desc *bootinfo.Descriptor) {
	h := &Handoff{Entry: entry, ServicesExited: m.exited}
	var result *multierror.Error

	raw, err := desc.MarshalBinary()
	if err != nil {
		result = multierror.Append(result, err)
	}
	h.Raw = raw
	parsed, err := bootinfo.Parse(raw)
	if err != nil {
		result = multierror.Append(result, err)
		h.Descriptor = *desc
	} else {
		h.Descriptor = *parsed
		if err := parsed.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	d := &h.Descriptor

	if !m.exited {
		result = multierror.Append(result, errors.New("boot services are still active"))
	}
	if img, ok := m.live[efi.PhysAddr(d.ImageLoadAddress)]; ok && uint64(len(img.Bytes)) >= d.ImageSize {
		h.Image = append([]byte(nil), img.Bytes[:d.ImageSize]...)
	} else {
		result = multierror.Append(result, fmt.Errorf("no allocation holds the image at %#x", d.ImageLoadAddress))
	}
	if entry != d.EntryPoint() {
		result = multierror.Append(result, fmt.Errorf("jump to %v, record says %v", entry, d.EntryPoint()))
	}
	if mm, ok := m.live[efi.PhysAddr(d.MemoryMapAddress)]; ok && uint64(len(mm.Bytes)) >= d.MemoryMapSize {
		h.MemoryMap = append([]byte(nil), mm.Bytes[:d.MemoryMapSize]...)
	} else {
		result = multierror.Append(result, fmt.Errorf("no allocation holds the memory map at %#x", d.MemoryMapAddress))
	}
	img := bytes.Range{Offset: d.ImageLoadAddress, Length: d.ImageSize}
	if img.Intersect(bytes.Range{Offset: d.MemoryMapAddress, Length: d.MemoryMapSize}) {
		result = multierror.Append(result, fmt.Errorf("image and memory map overlap"))
	}
	if img.Intersect(bytes.Range{Offset: d.FramebufferAddress, Length: d.FramebufferSize}) {
		result = multierror.Append(result, fmt.Errorf("image and framebuffer overlap"))
	}
	if d.MemoryMapKey != m.mapKey {
		result = multierror.Append(result, fmt.Errorf("memory map key %#x is stale, firmware is at %#x", d.MemoryMapKey, m.mapKey))
	}
	h.Err = result.ErrorOrNil()
	m.handed = h

	if m.jumps != nil {
		m.jumps <- h
		runtime.Goexit()
	}
}

// Boot runs r on its own goroutine, as firmware starting an image, and
// returns the captured handoff. The error is the runner's if it returned,
// or the handoff's validation result. The runner must return when it fails;
// a sequencer should idle through Halt.
func (m *Machine) Boot(r Runner) (*Handoff, error) {
	m.jumps = make(chan *Handoff, 1)
	defer func() { m.jumps = nil }()

	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()

	select {
	case h := <-m.jumps:
		return h, h.Err
	case err := <-done:
		if err == nil {
			err = ErrNoHandoff
		}
		return nil, err
	}
}
