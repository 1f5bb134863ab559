// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package efi

import (
	"github.com/linuxboot/fiano/pkg/guid"
)

// Protocol and table GUIDs used by the loader.
var (
	SimpleFileSystemProtocolGUID = *guid.MustParse("964E5B22-6459-11D2-8E39-00A0C969723B")
	GraphicsOutputProtocolGUID   = *guid.MustParse("9042A9DE-23DC-4A38-96FB-7ADED080516A")
	LoadedImageProtocolGUID      = *guid.MustParse("5B1B31A1-9562-11D2-8E3F-00A0C969723B")
	FileInfoGUID                 = *guid.MustParse("09576E92-6D3F-11D2-8E39-00A0C969723B")

	// ACPI20TableGUID identifies the RSDP for ACPI 2.0 and later.
	ACPI20TableGUID = *guid.MustParse("8868E871-E4F1-11D3-BC22-0080C73C8881")
	// ACPITableGUID identifies the legacy ACPI 1.0 RSDP.
	ACPITableGUID = *guid.MustParse("EB9D2D30-2D88-11D3-9A16-0090273FC14D")

	SMBIOSTableGUID  = *guid.MustParse("EB9D2D31-2D88-11D3-9A16-0090273FC14D")
	SMBIOS3TableGUID = *guid.MustParse("F2FD1544-9794-4A2C-992E-E5BBCF20E394")
)

var guidNames = map[guid.GUID]string{
	SimpleFileSystemProtocolGUID: "EFI_SIMPLE_FILE_SYSTEM_PROTOCOL",
	GraphicsOutputProtocolGUID:   "EFI_GRAPHICS_OUTPUT_PROTOCOL",
	LoadedImageProtocolGUID:      "EFI_LOADED_IMAGE_PROTOCOL",
	FileInfoGUID:                 "EFI_FILE_INFO",
	ACPI20TableGUID:              "EFI_ACPI_20_TABLE",
	ACPITableGUID:                "ACPI_TABLE",
	SMBIOSTableGUID:              "SMBIOS_TABLE",
	SMBIOS3TableGUID:             "SMBIOS3_TABLE",
}

// GUIDName returns the well-known name of g, or its string form.
func GUIDName(g guid.GUID) string {
	if name, ok := guidNames[g]; ok {
		return name
	}
	return g.String()
}
