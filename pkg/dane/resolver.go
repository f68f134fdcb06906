// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultTimeout = 5 * time.Second
	defaultDNSPort = "53"
	defaultDoTPort = "853"
	resolvConfPath = "/etc/resolv.conf"
)

// Resolver looks up TLSA records.
type Resolver struct {
	client    *dns.Client
	server    string
	requireAD bool
	logger    *slog.Logger
}

// NewResolver creates a resolver. A nil config is ErrResolverConfig.
func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, ErrResolverConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &dns.Client{Net: "udp", Timeout: timeout}
	port := defaultDNSPort
	if cfg.UseTLS {
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
		port = defaultDoTPort
	}

	server := cfg.Server
	if server == "" {
		system, err := dns.ClientConfigFromFile(resolvConfPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolverConfig, err)
		}
		if len(system.Servers) == 0 {
			return nil, fmt.Errorf("%w: no nameservers in %s", ErrResolverConfig, resolvConfPath)
		}
		server = system.Servers[0]
		if !cfg.UseTLS && system.Port != "" {
			port = system.Port
		}
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, port)
	}

	return &Resolver{
		client:    client,
		server:    server,
		requireAD: cfg.RequireAD,
		logger:    logger.With("component", "dane_resolver", "server", server),
	}, nil
}

// LookupTLSA queries "_<port>._tcp.<hostname>." for TLSA records.
// Records whose association data is not valid hex are skipped.
func (r *Resolver) LookupTLSA(ctx context.Context, hostname string, port uint16) ([]*TLSARecord, error) {
	if err := checkHostname(hostname); err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, ErrInvalidPort
	}

	qname := tlsaName(hostname, port)
	msg := new(dns.Msg)
	msg.SetQuestion(qname, dns.TypeTLSA)
	msg.SetEdns0(4096, true)
	msg.RecursionDesired = true

	resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDNSLookupFailed, err)
	}
	if resp == nil {
		return nil, ErrDNSLookupFailed
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: rcode %s", ErrDNSLookupFailed, dns.RcodeToString[resp.Rcode])
	}
	if r.requireAD && !resp.AuthenticatedData {
		return nil, ErrDNSSECRequired
	}

	records := make([]*TLSARecord, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		tlsa, ok := rr.(*dns.TLSA)
		if !ok {
			continue
		}
		data, err := hex.DecodeString(tlsa.Certificate)
		if err != nil {
			r.logger.Debug("skipping TLSA record with malformed data", "name", qname)
			continue
		}
		records = append(records, &TLSARecord{
			Usage:        tlsa.Usage,
			Selector:     tlsa.Selector,
			MatchingType: tlsa.MatchingType,
			CertData:     data,
		})
	}
	r.logger.Debug("TLSA lookup", "name", qname, "records", len(records), "rtt", rtt)

	if len(records) == 0 {
		return nil, ErrNoTLSARecords
	}
	return records, nil
}

// ResolvePins looks up the TLSA records of hostname:port and returns the
// pins they carry.
func (r *Resolver) ResolvePins(ctx context.Context, hostname string, port uint16) ([]string, error) {
	records, err := r.LookupTLSA(ctx, hostname, port)
	if err != nil {
		return nil, err
	}
	pins := PinsFromRecords(records)
	if len(pins) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUsablePins, tlsaName(hostname, port))
	}
	return pins, nil
}

func checkHostname(hostname string) error {
	if hostname == "" || len(hostname) > 253 || strings.ContainsRune(hostname, 0) {
		return ErrInvalidHostname
	}
	return nil
}

// tlsaName returns the absolute owner name "_<port>._tcp.<hostname>.".
func tlsaName(hostname string, port uint16) string {
	return fmt.Sprintf("_%d._tcp.%s", port, dns.Fqdn(hostname))
}
