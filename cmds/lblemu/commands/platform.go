// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/linuxboot/lblboot/pkg/emu"
)

// Platform is the option shared by every verb that needs a machine.
type Platform struct {
	PlatformPath string `short:"p" long:"platform" description:"path to the platform description (yaml, json or toml)" required:"true"`
}

// Machine loads the platform description and builds the machine.
func (p *Platform) Machine() (*emu.Machine, error) {
	cfg, err := emu.LoadConfig(afero.NewOsFs(), p.PlatformPath)
	if err != nil {
		return nil, err
	}
	m, err := emu.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid platform '%s': %w", p.PlatformPath, err)
	}
	return m, nil
}
