// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package efi models the slice of the UEFI boot and runtime environment that
// the stage 1 loader consumes: status codes, GUIDs, memory descriptors, file
// and graphics protocols, and the boot services table.
//
// UEFI Specification 2.10:
// * https://uefi.org/specs/UEFI/2.10/
package efi

import (
	"fmt"
	"strings"
)

// Status is an EFI_STATUS value. Non-success values implement error, so
// callers can use errors.Is(err, efi.BufferTooSmall).
type Status uint64

const errorBit = 1 << 63

// Status codes, Appendix D.
const (
	Success          Status = 0
	LoadError        Status = errorBit | 1
	InvalidParameter Status = errorBit | 2
	Unsupported      Status = errorBit | 3
	BadBufferSize    Status = errorBit | 4
	BufferTooSmall   Status = errorBit | 5
	NotReady         Status = errorBit | 6
	DeviceError      Status = errorBit | 7
	WriteProtected   Status = errorBit | 8
	OutOfResources   Status = errorBit | 9
	VolumeCorrupted  Status = errorBit | 10
	VolumeFull       Status = errorBit | 11
	NoMedia          Status = errorBit | 12
	MediaChanged     Status = errorBit | 13
	NotFound         Status = errorBit | 14
	AccessDenied     Status = errorBit | 15
	NoResponse       Status = errorBit | 16
	NoMapping        Status = errorBit | 17
	Timeout          Status = errorBit | 18
	NotStarted       Status = errorBit | 19
	AlreadyStarted   Status = errorBit | 20
	Aborted          Status = errorBit | 21
)

var statusNames = map[Status]string{
	Success:          "EFI_SUCCESS",
	LoadError:        "EFI_LOAD_ERROR",
	InvalidParameter: "EFI_INVALID_PARAMETER",
	Unsupported:      "EFI_UNSUPPORTED",
	BadBufferSize:    "EFI_BAD_BUFFER_SIZE",
	BufferTooSmall:   "EFI_BUFFER_TOO_SMALL",
	NotReady:         "EFI_NOT_READY",
	DeviceError:      "EFI_DEVICE_ERROR",
	WriteProtected:   "EFI_WRITE_PROTECTED",
	OutOfResources:   "EFI_OUT_OF_RESOURCES",
	VolumeCorrupted:  "EFI_VOLUME_CORRUPTED",
	VolumeFull:       "EFI_VOLUME_FULL",
	NoMedia:          "EFI_NO_MEDIA",
	MediaChanged:     "EFI_MEDIA_CHANGED",
	NotFound:         "EFI_NOT_FOUND",
	AccessDenied:     "EFI_ACCESS_DENIED",
	NoResponse:       "EFI_NO_RESPONSE",
	NoMapping:        "EFI_NO_MAPPING",
	Timeout:          "EFI_TIMEOUT",
	NotStarted:       "EFI_NOT_STARTED",
	AlreadyStarted:   "EFI_ALREADY_STARTED",
	Aborted:          "EFI_ABORTED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	if s.IsError() {
		return fmt.Sprintf("EFI_ERROR(%#x)", uint64(s&^errorBit))
	}
	return fmt.Sprintf("EFI_WARNING(%#x)", uint64(s))
}

// Error implements error.
func (s Status) Error() string {
	return s.String()
}

// IsError reports whether the high bit is set.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// Err converts a raw status returned by firmware into a Go error. Success
// and warnings map to nil.
func (s Status) Err() error {
	if !s.IsError() {
		return nil
	}
	return s
}

// ParseStatus parses a status name such as "EFI_NOT_FOUND" or "not_found".
// The empty string parses as Success.
func ParseStatus(name string) (Status, error) {
	if name == "" {
		return Success, nil
	}
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "EFI_") {
		n = "EFI_" + n
	}
	for s, sn := range statusNames {
		if sn == n {
			return s, nil
		}
	}
	return Success, fmt.Errorf("unknown EFI status %q", name)
}
