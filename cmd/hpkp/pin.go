// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hpkp/pkg/dane"
	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

const (
	// defaultMaxAge is 60 days, the value suggested by RFC 7469 §4.1.
	defaultMaxAge = 5184000

	defaultTLSPort = 443
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin computation and header generation",
}

var pinShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the RFC 7469 pin of a PEM certificate file",
	Long: `Compute the base64 SHA-256 digest of the certificate's SubjectPublicKeyInfo.
With --hostname the equivalent DANE-EE TLSA record (3 1 1) is printed too.`,
	RunE: runPinShow,
}

var pinHeaderCmd = &cobra.Command{
	Use:   "header",
	Short: "Build a Public-Key-Pins header",
	Long: `Build a Public-Key-Pins header from certificate files and/or literal pins.
RFC 7469 requires at least one backup pin that is not in the served chain;
a warning is logged when fewer than two pins are given.`,
	RunE: runPinHeader,
}

func init() {
	pinCmd.AddCommand(pinShowCmd)
	pinCmd.AddCommand(pinHeaderCmd)

	pinShowCmd.Flags().String("cert-file", "", "path to PEM certificate file (required)")
	pinShowCmd.Flags().String("hostname", "", "hostname for the TLSA record")
	pinShowCmd.Flags().Int("port", defaultTLSPort, "port for the TLSA record")

	pinHeaderCmd.Flags().StringSlice("cert-file", nil, "PEM certificate file to pin (repeatable)")
	pinHeaderCmd.Flags().StringSlice("pin", nil, "base64 SHA-256 pin to include (repeatable)")
	pinHeaderCmd.Flags().Uint32("max-age", defaultMaxAge, "max-age in seconds")
	pinHeaderCmd.Flags().Bool("include-subdomains", false, "add the includeSubdomains directive")
	pinHeaderCmd.Flags().String("report-uri", "", "report-uri for validation failures")
	pinHeaderCmd.Flags().Bool("report-only", false, "emit Public-Key-Pins-Report-Only instead")
}

type pinInfo struct {
	Pin      string `json:"pin"`
	Subject  string `json:"subject"`
	Issuer   string `json:"issuer"`
	TLSA     string `json:"tlsa,omitempty"`
	CertFile string `json:"cert_file"`
}

func runPinShow(cmd *cobra.Command, args []string) error {
	certFile, _ := cmd.Flags().GetString("cert-file")
	hostname, _ := cmd.Flags().GetString("hostname")
	port, _ := cmd.Flags().GetInt("port")

	if certFile == "" {
		return fmt.Errorf("%w: --cert-file is required", ErrInvalidInput)
	}
	cert, err := loadCertFromPEMFile(certFile)
	if err != nil {
		return err
	}
	pin, err := hpkp.PinCertificate(cert)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	info := pinInfo{
		Pin:      pin,
		Subject:  cert.Subject.String(),
		Issuer:   cert.Issuer.String(),
		CertFile: certFile,
	}
	if hostname != "" {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: --port out of range", ErrInvalidInput)
		}
		rec, err := dane.GenerateTLSARecord(cert, hostname, uint16(port))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		info.TLSA = rec.ZoneLine
	}

	if jsonOutput() {
		return writeJSON(info)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pin-sha256: %s\n", info.Pin)
	fmt.Fprintf(&b, "Subject:    %s\n", info.Subject)
	fmt.Fprintf(&b, "Issuer:     %s\n", info.Issuer)
	if info.TLSA != "" {
		fmt.Fprintf(&b, "TLSA:       %s\n", info.TLSA)
	}
	return writeOutput([]byte(b.String()))
}

func runPinHeader(cmd *cobra.Command, args []string) error {
	certFiles, _ := cmd.Flags().GetStringSlice("cert-file")
	literal, _ := cmd.Flags().GetStringSlice("pin")
	maxAge, _ := cmd.Flags().GetUint32("max-age")
	includeSubdomains, _ := cmd.Flags().GetBool("include-subdomains")
	reportURI, _ := cmd.Flags().GetString("report-uri")
	reportOnly, _ := cmd.Flags().GetBool("report-only")

	pins := append([]string(nil), literal...)
	for _, certFile := range certFiles {
		cert, err := loadCertFromPEMFile(certFile)
		if err != nil {
			return err
		}
		pin, err := hpkp.PinCertificate(cert)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidInput, certFile, err)
		}
		pins = append(pins, pin)
	}
	if len(pins) == 0 {
		return fmt.Errorf("%w: at least one --cert-file or --pin is required", ErrInvalidInput)
	}

	name := hpkp.PublicKeyPinsHeader
	if reportOnly {
		name = hpkp.PublicKeyPinsReportOnlyHeader
	}
	value := hpkp.Directives{
		Pins:              pins,
		MaxAge:            maxAge,
		IncludeSubdomains: includeSubdomains,
		ReportURI:         reportURI,
	}.String()

	// Parsing the result catches malformed literal pins.
	p, err := hpkp.Parse(name, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if p.PinCount() < 2 {
		slog.Warn("header carries no backup pin; clients may be locked out on key rotation", "pins", p.PinCount())
	}
	return writeOutput([]byte(fmt.Sprintf("%s: %s\n", name, p.String())))
}

// loadCertFromPEMFile reads and parses a PEM-encoded certificate from a file.
func loadCertFromPEMFile(certFile string) (*x509.Certificate, error) {
	data, err := os.ReadFile(filepath.Clean(certFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileOperation, certFile, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data found in %s", ErrInvalidInput, certFile)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate: %w", ErrInvalidInput, err)
	}
	return cert, nil
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileOperation, err)
	}
	return writeOutput(append(data, '\n'))
}
