// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"github.com/linuxboot/lblboot/pkg/efi"
)

// FindACPIRoot returns the RSDP address from the configuration tables. An
// ACPI 2.0 entry is preferred over a legacy one; within a GUID the first
// entry in table order wins. Zero means not found.
func FindACPIRoot(tables []efi.ConfigurationTable) efi.PhysAddr {
	var legacy efi.PhysAddr
	for _, ct := range tables {
		switch ct.VendorGUID {
		case efi.ACPI20TableGUID:
			return ct.VendorTable
		case efi.ACPITableGUID:
			if legacy == 0 {
				legacy = ct.VendorTable
			}
		}
	}
	return legacy
}
