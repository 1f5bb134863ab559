// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader finds the next-stage image on any Simple File System volume
// and copies it into pool memory.
package loader

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/log"
)

// DefaultPath is where the core engine is installed on the ESP.
const DefaultPath = `\LBL\CORE\lbl_core.bin`

var (
	// ErrNoFilesystem means device enumeration failed or found nothing.
	ErrNoFilesystem = errors.New("no filesystems found")
	// ErrImageNotFound means no device produced the image.
	ErrImageNotFound = errors.New("image not found on any filesystem")
	// ErrCorruptFile means a read returned a different length than the
	// file reported, or the file is empty.
	ErrCorruptFile = errors.New("file read failed or wrong size read")
	// ErrMalformedResponse means firmware answered a size probe with
	// something other than BufferTooSmall.
	ErrMalformedResponse = errors.New("unexpected firmware response")
)

// Image is a file loaded into pool memory. The buffer belongs to whoever
// holds the Image: the sequencer frees it on failure or hands it on.
type Image struct {
	Buffer *efi.Buffer
	Size   uint64

	// Device is the index into the enumeration the image came from.
	Device int
	Handle efi.Handle
}

// Address returns the physical load address.
func (img *Image) Address() efi.PhysAddr {
	return img.Buffer.Address
}

// Bytes returns the loaded contents.
func (img *Image) Bytes() []byte {
	return img.Buffer.Bytes[:img.Size]
}

// DeviceError records why one device did not yield the image.
type DeviceError struct {
	Index  int
	Handle efi.Handle
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("filesystem handle [%d] (%#x): %v", e.Index, uint64(e.Handle), e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Loader searches every filesystem for a file.
type Loader struct {
	Boot efi.BootServices
	Log  log.Logger
}

// Load returns the contents of path from the first device, in enumeration
// order, where it can be read completely. Load is the only owner of buffers
// allocated for failed attempts and always releases them; the device
// enumeration buffer is released exactly once on every path.
func (l *Loader) Load(path string) (*Image, error) {
	logger := log.Or(l.Log)

	encoded, err := efi.EncodePath(path)
	if err != nil {
		return nil, err
	}

	logger.Infof("Locating %s", path)
	hb, err := l.Boot.LocateHandleBuffer(efi.SimpleFileSystemProtocolGUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFilesystem, err)
	}
	defer func() {
		if hb.Pool == nil {
			return
		}
		if err := l.Boot.FreePool(hb.Pool); err != nil {
			logger.Warnf("Cannot free handle buffer: %v", err)
		}
	}()
	if len(hb.Handles) == 0 {
		return nil, ErrNoFilesystem
	}
	logger.Infof("Found %d filesystem handle(s)", len(hb.Handles))

	var result *multierror.Error
	for i, h := range hb.Handles {
		logger.Infof("Attempting to load from filesystem handle [%d]", i)
		img, err := l.loadFromDevice(h, encoded)
		if err == nil {
			img.Device = i
			logger.Infof("Loaded %s from filesystem handle [%d] (%d bytes)", path, i, img.Size)
			return img, nil
		}
		logger.Warnf("Failed to load from filesystem handle [%d]: %v", i, err)
		derr := &DeviceError{Index: i, Handle: h, Err: err}
		if errors.Is(err, efi.OutOfResources) {
			return nil, derr
		}
		result = multierror.Append(result, derr)
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrImageNotFound, path, result.ErrorOrNil())
}

func (l *Loader) loadFromDevice(h efi.Handle, path []byte) (img *Image, err error) {
	root, err := l.Boot.OpenVolume(h)
	if err != nil {
		return nil, fmt.Errorf("cannot open volume: %w", err)
	}
	defer root.Close()

	f, err := root.Open(path, efi.FileModeRead)
	if err != nil {
		return nil, fmt.Errorf("cannot open file: %w", err)
	}
	defer f.Close()

	size, err := l.fileSize(f)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorruptFile)
	}

	buf, err := l.Boot.AllocatePool(efi.LoaderData, size)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate %d bytes for file contents: %w", size, err)
	}
	defer func() {
		if err != nil {
			l.free(buf)
		}
	}()

	n, err := f.Read(buf.Bytes[:size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("%w: read %d of %d bytes", ErrCorruptFile, n, size)
	}
	return &Image{Buffer: buf, Size: size, Handle: h}, nil
}

// fileSize obtains EFI_FILE_INFO with the probe-then-fetch idiom.
func (l *Loader) fileSize(f efi.File) (uint64, error) {
	need, err := f.GetInfo(efi.FileInfoGUID, nil)
	switch {
	case err == nil:
		return 0, fmt.Errorf("%w: file info probe succeeded with an empty buffer: %v", ErrMalformedResponse, efi.DeviceError)
	case !errors.Is(err, efi.BufferTooSmall):
		return 0, fmt.Errorf("%w: file info probe: %v", ErrMalformedResponse, err)
	}

	infoBuf, err := l.Boot.AllocatePool(efi.LoaderData, need)
	if err != nil {
		return 0, fmt.Errorf("cannot allocate %d bytes for file info: %w", need, err)
	}
	defer l.free(infoBuf)

	n, err := f.GetInfo(efi.FileInfoGUID, infoBuf.Bytes)
	if err != nil {
		return 0, fmt.Errorf("cannot get file info: %w", err)
	}
	var fi efi.FileInfo
	if err := fi.UnmarshalBinary(infoBuf.Bytes[:n]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fi.FileSize, nil
}

func (l *Loader) free(b *efi.Buffer) {
	if err := l.Boot.FreePool(b); err != nil {
		log.Or(l.Log).Warnf("Cannot free pool at %v: %v", b.Address, err)
	}
}
