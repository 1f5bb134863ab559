// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bios

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testImage(sectors int) []byte {
	b := make([]byte, sectors*SectorSize)
	for i := 0; i < sectors; i++ {
		copy(b[i*SectorSize:], bytes.Repeat([]byte{byte(i + 1)}, SectorSize))
	}
	// MBR signature
	b[510], b[511] = 0x55, 0xAA
	return b
}

func TestReadSectors(t *testing.T) {
	drives := Drives{FirstHardDisk: NewMemoryDisk(testImage(8))}

	dst := make([]byte, 2*SectorSize)
	require.NoError(t, drives.ReadSectors(FirstHardDisk, 3, 2, dst))
	require.Equal(t, bytes.Repeat([]byte{4}, SectorSize), dst[:SectorSize])
	require.Equal(t, bytes.Repeat([]byte{5}, SectorSize), dst[SectorSize:])

	mbr := make([]byte, SectorSize)
	require.NoError(t, drives.ReadSectors(FirstHardDisk, 0, 1, mbr))
	require.Equal(t, []byte{0x55, 0xAA}, mbr[510:])
}

func TestReadSectorsErrors(t *testing.T) {
	drives := Drives{FirstHardDisk: NewMemoryDisk(testImage(4))}
	dst := make([]byte, 4*SectorSize)

	require.ErrorIs(t, drives.ReadSectors(0x81, 0, 1, dst), ErrNoDrive)
	require.ErrorIs(t, drives.ReadSectors(FirstHardDisk, 3, 2, dst), ErrOutOfRange)
	require.Error(t, drives.ReadSectors(FirstHardDisk, 0, 2, dst[:SectorSize]))
	require.ErrorIs(t, Stub.ReadSectors(FirstHardDisk, 0, 1, dst), ErrNotImplemented)
}

func TestNewDisk(t *testing.T) {
	d, err := NewDisk(bytes.NewReader(testImage(3)))
	require.NoError(t, err)
	require.Equal(t, uint64(3), d.Sectors())

	dst := make([]byte, SectorSize)
	require.NoError(t, d.Read(2, 1, dst))
	require.Equal(t, byte(3), dst[0])
}
