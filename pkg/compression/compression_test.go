// Copyright 2018-2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testData() []byte {
	// half noise, half a repeating pattern, like a snapshot with a memory map
	rng := rand.New(rand.NewSource(1))
	b := make([]byte, 64<<10)
	rng.Read(b[:32<<10])
	copy(b[32<<10:], bytes.Repeat([]byte("ConventionalMemory\x00\x00"), (32<<10)/20))
	return b
}

var compressors = []Compressor{&XZ{}, &Zstd{}, &LZ4{}}

func TestEncodeDecode(t *testing.T) {
	want := testData()
	for _, c := range compressors {
		t.Run(c.Name(), func(t *testing.T) {
			encoded, err := c.Encode(want)
			require.NoError(t, err)
			require.Less(t, len(encoded), len(want))
			require.Equal(t, c.Name(), Detect(encoded).Name())

			got, err := c.Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, c := range []Compressor{&XZ{}, &Zstd{}} {
		_, err := c.Decode([]byte("definitely not compressed"))
		require.Error(t, err, c.Name())
	}
}

func TestFromPath(t *testing.T) {
	for path, want := range map[string]string{
		"snap.bin.xz":  "XZ",
		"snap.bin.zst": "ZSTD",
		"SNAP.ZSTD":    "ZSTD",
		"snap.lz4":     "LZ4",
	} {
		c := FromPath(path)
		require.NotNil(t, c, path)
		require.Equal(t, want, c.Name())
	}
	require.Nil(t, FromPath("snap.bin"))
	require.Nil(t, Detect([]byte{0x4f, 0x46}))
}
