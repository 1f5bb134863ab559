// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// File open modes.
const (
	FileModeRead   uint64 = 0x1
	FileModeWrite  uint64 = 0x2
	FileModeCreate uint64 = 0x8000000000000000
)

// File attributes.
const (
	FileReadOnly  uint64 = 0x01
	FileHidden    uint64 = 0x02
	FileSystem    uint64 = 0x04
	FileDirectory uint64 = 0x10
	FileArchive   uint64 = 0x20
)

var ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodePath converts s to a NUL-terminated CHAR16 string as expected by
// EFI_FILE_PROTOCOL.Open.
func EncodePath(s string) ([]byte, error) {
	b, err := ucs2.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("cannot encode %q as UCS-2: %w", s, err)
	}
	return append(b, 0, 0), nil
}

// DecodePath converts a CHAR16 string to UTF-8, stopping at the first NUL.
func DecodePath(b []byte) (string, error) {
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	if len(b)%2 != 0 {
		return "", fmt.Errorf("odd length CHAR16 string (%d bytes)", len(b))
	}
	s, err := ucs2.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// Time is an EFI_TIME.
type Time struct {
	Year       uint16
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	Pad1       uint8
	Nanosecond uint32
	TimeZone   int16
	Daylight   uint8
	Pad2       uint8
}

// fileInfoHeader is the fixed part of EFI_FILE_INFO; FileName follows.
type fileInfoHeader struct {
	Size             uint64
	FileSize         uint64
	PhysicalSize     uint64
	CreateTime       Time
	LastAccessTime   Time
	ModificationTime Time
	Attribute        uint64
}

// FileInfoHeaderSize is the size of EFI_FILE_INFO without its name.
var FileInfoHeaderSize = binary.Size(fileInfoHeader{})

// FileInfo is a decoded EFI_FILE_INFO.
type FileInfo struct {
	FileSize         uint64
	PhysicalSize     uint64
	CreateTime       Time
	LastAccessTime   Time
	ModificationTime Time
	Attribute        uint64
	FileName         string
}

// MarshalBinary encodes fi as EFI_FILE_INFO, including the trailing
// NUL-terminated name.
func (fi *FileInfo) MarshalBinary() ([]byte, error) {
	name, err := EncodePath(fi.FileName)
	if err != nil {
		return nil, err
	}
	hdr := fileInfoHeader{
		Size:             uint64(FileInfoHeaderSize + len(name)),
		FileSize:         fi.FileSize,
		PhysicalSize:     fi.PhysicalSize,
		CreateTime:       fi.CreateTime,
		LastAccessTime:   fi.LastAccessTime,
		ModificationTime: fi.ModificationTime,
		Attribute:        fi.Attribute,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	buf.Write(name)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an EFI_FILE_INFO.
func (fi *FileInfo) UnmarshalBinary(b []byte) error {
	var hdr fileInfoHeader
	if len(b) < FileInfoHeaderSize {
		return fmt.Errorf("EFI_FILE_INFO needs at least %d bytes, have %d", FileInfoHeaderSize, len(b))
	}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if hdr.Size < uint64(FileInfoHeaderSize) || hdr.Size > uint64(len(b)) {
		return fmt.Errorf("EFI_FILE_INFO reports size %d for a %d byte buffer", hdr.Size, len(b))
	}
	name, err := DecodePath(b[FileInfoHeaderSize:hdr.Size])
	if err != nil {
		return fmt.Errorf("EFI_FILE_INFO name: %w", err)
	}
	*fi = FileInfo{
		FileSize:         hdr.FileSize,
		PhysicalSize:     hdr.PhysicalSize,
		CreateTime:       hdr.CreateTime,
		LastAccessTime:   hdr.LastAccessTime,
		ModificationTime: hdr.ModificationTime,
		Attribute:        hdr.Attribute,
		FileName:         name,
	}
	return nil
}
