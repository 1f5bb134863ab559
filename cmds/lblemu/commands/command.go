// Copyright 2017-2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"github.com/jessevdk/go-flags"
)

// Command is one lblemu verb. Each verb embeds Platform, builds an emulated
// machine from the platform file and inspects or boots it.
type Command interface {
	flags.Commander

	// ShortDescription is the one-line help shown in the verb list.
	ShortDescription() string

	// LongDescription is the detailed help of the verb, may be empty.
	LongDescription() string
}
