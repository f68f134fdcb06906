// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of hpkp",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeOutput([]byte(fmt.Sprintf("hpkp version %s\n", resolveVersion())))
	},
}

// resolveVersion prefers the build-time value, then a VERSION file in the
// working directory or next to the executable.
func resolveVersion() string {
	if version != "" {
		return version
	}

	paths := []string{"VERSION"}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "VERSION"))
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v
		}
	}
	return "unknown"
}
