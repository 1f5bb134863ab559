// Copyright 2018-2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements reading and writing of compressed boot
// info snapshots.
package compression

import (
	"path/filepath"
	"strings"
)

// Compressor defines a single compression scheme (such as XZ).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

// FromPath returns the Compressor for the file extension of path, or nil if
// the file is not compressed.
func FromPath(path string) Compressor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xz":
		return &XZ{}
	case ".zst", ".zstd":
		return &Zstd{}
	case ".lz4":
		return &LZ4{}
	}
	return nil
}

// Detect returns the Compressor whose stream magic starts data, or nil.
func Detect(data []byte) Compressor {
	switch {
	case hasPrefix(data, xzMagic):
		return &XZ{}
	case hasPrefix(data, zstdMagic):
		return &Zstd{}
	case hasPrefix(data, lz4Magic):
		return &LZ4{}
	}
	return nil
}

func hasPrefix(data, magic []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == string(magic)
}
