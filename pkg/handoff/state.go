// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package handoff

import (
	"fmt"
)

// State is a step of the handoff. States only move forward; HaltFailure is
// absorbing.
type State int

// States, in order.
const (
	Init State = iota
	LocateAndLoadImage
	CollectPlatformInfo
	BuildDescriptor
	ExitFirmwareServices
	TransferControl
	HaltFailure
)

var stateNames = map[State]string{
	Init:                 "INIT",
	LocateAndLoadImage:   "LOCATE_AND_LOAD_IMAGE",
	CollectPlatformInfo:  "COLLECT_PLATFORM_INFO",
	BuildDescriptor:      "BUILD_DESCRIPTOR",
	ExitFirmwareServices: "EXIT_FIRMWARE_SERVICES",
	TransferControl:      "TRANSFER_CONTROL",
	HaltFailure:          "HALT_FAILURE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// canEnter reports whether next may follow s.
func (s State) canEnter(next State) bool {
	switch {
	case s == HaltFailure || s == TransferControl:
		return false
	case next == HaltFailure:
		return true
	default:
		return next == s+1
	}
}
