// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeremyhahn/go-hpkp/pkg/dane"
	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

// defaultDANEResolveTimeout bounds a TLSA lookup.
const defaultDANEResolveTimeout = 10 * time.Second

var daneCmd = &cobra.Command{
	Use:   "dane",
	Short: "Derive pins from DANE TLSA records",
}

var danePinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Show the pins published in a host's TLSA records",
	Long: `Query _<port>._tcp.<hostname> TLSA records and print the pins expressed by
the SubjectPublicKeyInfo records, followed by a matching Public-Key-Pins header.
The Authenticated Data flag is required unless --require-ad=false.`,
	RunE: runDANEPins,
}

func init() {
	daneCmd.AddCommand(danePinsCmd)

	danePinsCmd.Flags().String("hostname", "", "hostname to query (required)")
	danePinsCmd.Flags().Int("port", defaultTLSPort, "TLS port of the service")
	danePinsCmd.Flags().Uint32("max-age", defaultMaxAge, "max-age for the suggested header")
	addResolverFlags(danePinsCmd.Flags())
}

// addResolverFlags registers the DNS resolver flags shared by commands that
// perform TLSA lookups.
func addResolverFlags(fs *pflag.FlagSet) {
	fs.String("dns-server", "", "DNS server address (e.g., 9.9.9.9:53)")
	fs.Bool("dns-over-tls", false, "use DNS-over-TLS for TLSA lookups")
	fs.String("dns-tls-server-name", "", "TLS server name for DNS-over-TLS")
	fs.Bool("require-ad", true, "require the DNSSEC Authenticated Data flag")
}

func newResolverFromFlags(fs *pflag.FlagSet) (*dane.Resolver, error) {
	server, _ := fs.GetString("dns-server")
	useTLS, _ := fs.GetBool("dns-over-tls")
	tlsName, _ := fs.GetString("dns-tls-server-name")
	requireAD, _ := fs.GetBool("require-ad")

	resolver, err := dane.NewResolver(&dane.ResolverConfig{
		Server:        server,
		UseTLS:        useTLS,
		TLSServerName: tlsName,
		RequireAD:     requireAD,
		Logger:        slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: resolver: %w", ErrInvalidInput, err)
	}
	return resolver, nil
}

type danePins struct {
	Name   string   `json:"name"`
	Pins   []string `json:"pins"`
	Header string   `json:"header"`
}

func runDANEPins(cmd *cobra.Command, args []string) error {
	hostname, _ := cmd.Flags().GetString("hostname")
	port, _ := cmd.Flags().GetInt("port")
	maxAge, _ := cmd.Flags().GetUint32("max-age")

	if hostname == "" {
		return fmt.Errorf("%w: --hostname is required", ErrInvalidInput)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: --port out of range", ErrInvalidInput)
	}

	resolver, err := newResolverFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()
	ctx, cancel := context.WithTimeout(sigCtx, defaultDANEResolveTimeout)
	defer cancel()

	slog.Debug("resolving TLSA pins", "hostname", hostname, "port", port)

	pins, err := resolver.ResolvePins(ctx, hostname, uint16(port))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	out := danePins{
		Name:   fmt.Sprintf("_%d._tcp.%s", port, strings.TrimSuffix(hostname, ".")),
		Pins:   pins,
		Header: hpkp.Directives{Pins: pins, MaxAge: maxAge}.String(),
	}
	if jsonOutput() {
		return writeJSON(out)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TLSA pins for %s:\n", out.Name)
	for _, pin := range out.Pins {
		fmt.Fprintf(&b, "  %s\n", pin)
	}
	fmt.Fprintf(&b, "\n%s: %s\n", hpkp.PublicKeyPinsHeader, out.Header)
	return writeOutput([]byte(b.String()))
}
