// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lblinfo decodes a boot info snapshot written by lblemu, validates it the
// way the core image does and prints it.
//
// Synopsis:
//     lblinfo [-j] SNAPSHOT
//
// Snapshots ending in .xz, .zst or .lz4, or starting with one of their
// stream magics, are decompressed first.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/linuxboot/lblboot/pkg/bootinfo"
	"github.com/linuxboot/lblboot/pkg/compression"
	"github.com/linuxboot/lblboot/pkg/efi"
)

var (
	jsonOutput = flag.BoolP("json", "j", false, "print JSON")
	table      = flag.BoolP("memmap", "m", true, "print the memory map table")
)

type report struct {
	Descriptor bootinfo.Descriptor
	MemoryMap  []efi.MemoryDescriptor
	Problems   []string `json:",omitempty"`
}

func load(path string) (*bootinfo.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := compression.FromPath(path)
	if c == nil {
		c = compression.Detect(b)
	}
	if c != nil {
		if b, err = c.Decode(b); err != nil {
			return nil, fmt.Errorf("unable to decompress %s as %s: %w", path, c.Name(), err)
		}
	}
	var s bootinfo.Snapshot
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return &s, nil
}

func main() {
	flag.Parse()

	a := flag.Args()
	if len(a) != 1 {
		log.Fatal("Usage: lblinfo [-j] <snapshot-file>")
	}

	s, err := load(a[0])
	if err != nil {
		log.Fatal(err)
	}
	descs, err := s.Descriptors()
	if err != nil {
		log.Fatal(err)
	}
	r := report{Descriptor: s.Descriptor, MemoryMap: descs}
	if err := s.Descriptor.Validate(); err != nil {
		r.Problems = append(r.Problems, err.Error())
	}

	if *jsonOutput {
		j, err := json.MarshalIndent(r, "", "    ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(j))
		return
	}

	fmt.Print(s.Descriptor.Summary())
	if *table {
		fmt.Println(bootinfo.MemoryMapTable("Memory Map", descs))
	}
	for _, p := range r.Problems {
		fmt.Printf("WARNING: %s\n", p)
	}
}
