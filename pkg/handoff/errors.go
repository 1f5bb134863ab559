// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package handoff

import (
	"errors"
	"fmt"

	"github.com/linuxboot/lblboot/pkg/efi"
	"github.com/linuxboot/lblboot/pkg/loader"
	"github.com/linuxboot/lblboot/pkg/platform"
)

var (
	// ErrExitBootServices means firmware refused to relinquish boot
	// services. The platform state is ambiguous afterwards.
	ErrExitBootServices = errors.New("ExitBootServices failed")
	// ErrEntryReturned means the next stage returned, which it must not.
	ErrEntryReturned = errors.New("next stage returned control")
)

// Class is the kind of failure that halted the handoff.
type Class int

// Failure classes.
const (
	ClassUnknown Class = iota
	// ClassNotFound: the image is on no device.
	ClassNotFound
	// ClassMalformedResponse: firmware answered with an unexpected status,
	// size or shape.
	ClassMalformedResponse
	// ClassResourceExhaustion: an allocation failed.
	ClassResourceExhaustion
	// ClassIrrevocableTransition: ExitBootServices failed.
	ClassIrrevocableTransition
)

var classNames = map[Class]string{
	ClassUnknown:               "unknown",
	ClassNotFound:              "not-found",
	ClassMalformedResponse:     "malformed-response",
	ClassResourceExhaustion:    "resource-exhaustion",
	ClassIrrevocableTransition: "irrevocable-transition-failure",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Classify maps an error to its failure class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrExitBootServices):
		return ClassIrrevocableTransition
	case errors.Is(err, efi.OutOfResources):
		return ClassResourceExhaustion
	case errors.Is(err, loader.ErrImageNotFound),
		errors.Is(err, loader.ErrNoFilesystem),
		errors.Is(err, efi.NotFound):
		return ClassNotFound
	case errors.Is(err, loader.ErrCorruptFile),
		errors.Is(err, loader.ErrMalformedResponse),
		errors.Is(err, platform.ErrUnexpectedSuccess),
		errors.Is(err, platform.ErrMemoryMapGrew),
		errors.Is(err, efi.BufferTooSmall),
		errors.Is(err, efi.DeviceError):
		return ClassMalformedResponse
	}
	return ClassUnknown
}

// HaltError is returned by Sequencer.Run when the handoff stopped.
type HaltError struct {
	State State
	Class Class
	Err   error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("halted in %v (%v): %v", e.State, e.Class, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}
