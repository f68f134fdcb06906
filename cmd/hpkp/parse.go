// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a Public-Key-Pins header value",
	Long: `Parse a Public-Key-Pins (or Public-Key-Pins-Report-Only) header value and
print the resulting policy. The expiry is computed from the current time.`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().String("value", "", "header value (required)")
	parseCmd.Flags().String("header-name", hpkp.PublicKeyPinsHeader, "header name")
}

func runParse(cmd *cobra.Command, args []string) error {
	value, _ := cmd.Flags().GetString("value")
	name, _ := cmd.Flags().GetString("header-name")

	if value == "" {
		return fmt.Errorf("%w: --value is required", ErrInvalidInput)
	}

	p, err := hpkp.Parse(name, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if jsonOutput() {
		return writeJSON(p)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Header:             %s\n", p.HeaderName())
	for _, pin := range p.Pins() {
		fmt.Fprintf(&b, "Pin:                %s\n", pin)
	}
	fmt.Fprintf(&b, "Max-Age:            %d\n", p.MaxAge())
	fmt.Fprintf(&b, "Expires:            %s\n", p.ExpiresAt().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Include Subdomains: %t\n", p.IncludeSubdomains())
	if p.ReportURI() != "" {
		fmt.Fprintf(&b, "Report URI:         %s\n", p.ReportURI())
	}
	return writeOutput([]byte(b.String()))
}
