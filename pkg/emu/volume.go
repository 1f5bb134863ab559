// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/spf13/afero"

	"github.com/linuxboot/lblboot/pkg/efi"
)

type volume struct {
	m          *Machine
	name       string
	fs         afero.Fs
	openStatus efi.Status
	infoStatus efi.Status
	shortRead  int
}

// file is an EFI_FILE_PROTOCOL instance on a volume.
type file struct {
	vol    *volume
	path   string
	dir    bool
	f      afero.File
	closed bool
}

var _ efi.File = (*file)(nil)

// hostPath turns a CHAR16 EFI path into a slash separated path relative to
// the volume root.
func hostPath(cwd string, p []byte) (string, error) {
	s, err := efi.DecodePath(p)
	if err != nil {
		return "", err
	}
	s = strings.ReplaceAll(s, `\`, "/")
	if !strings.HasPrefix(s, "/") {
		s = path.Join(cwd, s)
	}
	return path.Clean(s), nil
}

func (f *file) machine() *Machine {
	return f.vol.m
}

func (f *file) Open(p []byte, mode uint64) (efi.File, error) {
	m := f.machine()
	if m.violation("File.Open") {
		return nil, efi.Unsupported
	}
	if f.closed || !f.dir {
		return nil, efi.InvalidParameter
	}
	if mode&(efi.FileModeWrite|efi.FileModeCreate) != 0 {
		return nil, efi.WriteProtected
	}
	name, err := hostPath(f.path, p)
	if err != nil {
		return nil, efi.InvalidParameter
	}
	fi, err := f.vol.fs.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, efi.NotFound
		}
		return nil, efi.DeviceError
	}
	nf := &file{vol: f.vol, path: name, dir: fi.IsDir()}
	if !nf.dir {
		if nf.f, err = f.vol.fs.Open(name); err != nil {
			return nil, efi.DeviceError
		}
	}
	m.openFile++
	return nf, nil
}

func efiTime(t time.Time) efi.Time {
	t = t.UTC()
	return efi.Time{
		Year:       uint16(t.Year()),
		Month:      uint8(t.Month()),
		Day:        uint8(t.Day()),
		Hour:       uint8(t.Hour()),
		Minute:     uint8(t.Minute()),
		Second:     uint8(t.Second()),
		Nanosecond: uint32(t.Nanosecond()),
		TimeZone:   0x07ff, // EFI_UNSPECIFIED_TIMEZONE
	}
}

func (f *file) GetInfo(infoType guid.GUID, dst []byte) (uint64, error) {
	if f.machine().violation("File.GetInfo") {
		return 0, efi.Unsupported
	}
	if f.closed {
		return 0, efi.InvalidParameter
	}
	if err := f.vol.infoStatus.Err(); err != nil {
		return 0, err
	}
	if infoType != efi.FileInfoGUID {
		return 0, efi.Unsupported
	}
	st, err := f.vol.fs.Stat(f.path)
	if err != nil {
		return 0, efi.DeviceError
	}
	fi := efi.FileInfo{
		FileName:         path.Base(f.path),
		ModificationTime: efiTime(st.ModTime()),
		Attribute:        efi.FileReadOnly,
	}
	if f.path == "/" {
		fi.FileName = ""
	}
	if st.IsDir() {
		fi.Attribute |= efi.FileDirectory
	} else {
		fi.FileSize = uint64(st.Size())
		fi.PhysicalSize = (fi.FileSize + 511) &^ 511
		fi.Attribute |= efi.FileArchive
	}
	fi.CreateTime = fi.ModificationTime
	fi.LastAccessTime = fi.ModificationTime
	b, err := fi.MarshalBinary()
	if err != nil {
		return 0, efi.DeviceError
	}
	if len(dst) < len(b) {
		return uint64(len(b)), efi.BufferTooSmall
	}
	return uint64(copy(dst, b)), nil
}

func (f *file) Read(dst []byte) (int, error) {
	if f.machine().violation("File.Read") {
		return 0, efi.Unsupported
	}
	if f.closed {
		return 0, efi.InvalidParameter
	}
	if f.dir {
		return 0, efi.Unsupported
	}
	if n := f.vol.shortRead; n > 0 {
		if n >= len(dst) {
			dst = dst[:0]
		} else {
			dst = dst[:len(dst)-n]
		}
	}
	n, err := io.ReadFull(f.f, dst)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, nil
	default:
		return n, efi.DeviceError
	}
}

func (f *file) Close() error {
	if f.machine().violation("File.Close") {
		return efi.Unsupported
	}
	if f.closed {
		return efi.InvalidParameter
	}
	f.closed = true
	f.machine().openFile--
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}
