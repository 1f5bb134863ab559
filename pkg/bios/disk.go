// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bios models the legacy INT 13h sector read primitive. Only the
// capability is provided here; real-mode mechanics live in the MBR and
// stage 2 assembly.
package bios

import (
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// SectorSize is the logical sector size INT 13h extensions assume.
const SectorSize = 512

// FirstHardDisk is the BIOS drive number of the first fixed disk.
const FirstHardDisk uint8 = 0x80

var (
	// ErrNotImplemented is returned by Stub.
	ErrNotImplemented = errors.New("BIOS disk services are not implemented in this environment")
	// ErrNoDrive means the drive number is not attached.
	ErrNoDrive = errors.New("no such drive")
	// ErrOutOfRange means the request crosses the end of the disk.
	ErrOutOfRange = errors.New("sector range outside the disk")
)

// SectorReader reads count sectors starting at lba into dst.
type SectorReader interface {
	ReadSectors(drive uint8, lba uint64, count uint16, dst []byte) error
}

// Stub is the SectorReader for environments without BIOS services.
var Stub SectorReader = stub{}

type stub struct{}

func (stub) ReadSectors(uint8, uint64, uint16, []byte) error {
	return ErrNotImplemented
}

// Disk is a raw disk image.
type Disk struct {
	r    io.ReadSeeker
	size int64
}

// NewDisk wraps a seekable image.
func NewDisk(r io.ReadSeeker) (*Disk, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("unable to detect disk size (through seek): %w", err)
	}
	return &Disk{r: r, size: size}, nil
}

// NewMemoryDisk uses b as the disk contents.
func NewMemoryDisk(b []byte) *Disk {
	return &Disk{r: bytesextra.NewReadWriteSeeker(b), size: int64(len(b))}
}

// Sectors returns the number of whole sectors on the disk.
func (d *Disk) Sectors() uint64 {
	return uint64(d.size) / SectorSize
}

// Read reads count sectors at lba into dst.
func (d *Disk) Read(lba uint64, count uint16, dst []byte) error {
	n := uint64(count) * SectorSize
	if uint64(len(dst)) < n {
		return fmt.Errorf("buffer of %d bytes cannot hold %d sectors", len(dst), count)
	}
	if lba+uint64(count) > d.Sectors() {
		return fmt.Errorf("%w: lba %d count %d, disk has %d sectors", ErrOutOfRange, lba, count, d.Sectors())
	}
	if _, err := d.r.Seek(int64(lba*SectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.r, dst[:n])
	return err
}

// Drives maps BIOS drive numbers to disks.
type Drives map[uint8]*Disk

// ReadSectors implements SectorReader.
func (ds Drives) ReadSectors(drive uint8, lba uint64, count uint16, dst []byte) error {
	d, ok := ds[drive]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNoDrive, drive)
	}
	return d.Read(lba, count, dst)
}
