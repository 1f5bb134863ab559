// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// XZ implements Compressor for .xz streams.
type XZ struct{}

// Name returns the type of compression employed.
func (c *XZ) Name() string {
	return "XZ"
}

// Decode decodes a byte slice of xz data.
func (c *XZ) Decode(encodedData []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, fmt.Errorf("unable to create an xz reader: %w", err)
	}
	return io.ReadAll(r)
}

// Encode encodes a byte slice with xz.
func (c *XZ) Encode(decodedData []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("unable to create an xz writer: %w", err)
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
