// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

// mockZone describes how the in-process DNS server answers TLSA queries.
type mockZone struct {
	records []*dns.TLSA
	setAD   bool
	rcode   int
}

// startMockDNS starts a UDP DNS server on a random localhost port and
// returns its address.
func startMockDNS(t *testing.T, zone mockZone) string {
	t.Helper()

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, zone.rcode)
		m.Authoritative = true
		m.AuthenticatedData = zone.setAD

		for _, q := range r.Question {
			if q.Qtype != dns.TypeTLSA || zone.rcode != dns.RcodeSuccess {
				continue
			}
			for _, rec := range zone.records {
				rr := *rec
				rr.Hdr = dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTLSA, Class: dns.ClassINET, Ttl: 300}
				m.Answer = append(m.Answer, &rr)
			}
		}
		if err := w.WriteMsg(m); err != nil {
			t.Logf("mock DNS: failed to write response: %v", err)
		}
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &dns.Server{PacketConn: pc, Handler: handler}
	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

// generateTestCert creates a self-signed ECDSA P-256 certificate.
func generateTestCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func spkiRecord(cert *x509.Certificate) *dns.TLSA {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return &dns.TLSA{
		Usage:        UsageDANEEE,
		Selector:     SelectorSPKI,
		MatchingType: MatchingSHA256,
		Certificate:  hex.EncodeToString(sum[:]),
	}
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver(nil)
	assert.ErrorIs(t, err, ErrResolverConfig)

	r, err := NewResolver(&ResolverConfig{Server: "9.9.9.9"})
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9:53", r.server)

	r, err = NewResolver(&ResolverConfig{Server: "9.9.9.9", UseTLS: true, TLSServerName: "dns.quad9.net"})
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9:853", r.server)
	assert.Equal(t, "tcp-tls", r.client.Net)
	assert.Equal(t, "dns.quad9.net", r.client.TLSConfig.ServerName)

	r, err = NewResolver(&ResolverConfig{Server: "::1"})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:53", r.server)

	r, err = NewResolver(&ResolverConfig{Server: "127.0.0.1:5353"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5353", r.server)
	assert.Equal(t, defaultTimeout, r.client.Timeout)
}

func TestResolver_LookupTLSA(t *testing.T) {
	cert := generateTestCert(t)
	addr := startMockDNS(t, mockZone{records: []*dns.TLSA{
		spkiRecord(cert),
		{Usage: UsageDANETA, Selector: SelectorFullCert, MatchingType: MatchingSHA512, Certificate: hex.EncodeToString(make([]byte, 64))},
	}, setAD: true})

	r, err := NewResolver(&ResolverConfig{Server: addr, RequireAD: true, Timeout: time.Second})
	require.NoError(t, err)

	records, err := r.LookupTLSA(context.Background(), "example.com", 443)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, UsageDANEEE, records[0].Usage)
	assert.Len(t, records[0].CertData, sha256.Size)
	assert.Equal(t, MatchingSHA512, records[1].MatchingType)
	assert.Len(t, records[1].CertData, 64)
}

func TestResolver_LookupTLSA_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("AD flag required", func(t *testing.T) {
		addr := startMockDNS(t, mockZone{records: []*dns.TLSA{spkiRecord(generateTestCert(t))}})
		r, err := NewResolver(&ResolverConfig{Server: addr, RequireAD: true, Timeout: time.Second})
		require.NoError(t, err)
		_, err = r.LookupTLSA(ctx, "example.com", 443)
		assert.ErrorIs(t, err, ErrDNSSECRequired)
	})

	t.Run("no records", func(t *testing.T) {
		addr := startMockDNS(t, mockZone{setAD: true})
		r, err := NewResolver(&ResolverConfig{Server: addr, Timeout: time.Second})
		require.NoError(t, err)
		_, err = r.LookupTLSA(ctx, "example.com", 443)
		assert.ErrorIs(t, err, ErrNoTLSARecords)
	})

	t.Run("nxdomain", func(t *testing.T) {
		addr := startMockDNS(t, mockZone{rcode: dns.RcodeNameError})
		r, err := NewResolver(&ResolverConfig{Server: addr, Timeout: time.Second})
		require.NoError(t, err)
		_, err = r.LookupTLSA(ctx, "example.com", 443)
		assert.ErrorIs(t, err, ErrDNSLookupFailed)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		r, err := NewResolver(&ResolverConfig{Server: "127.0.0.1:1"})
		require.NoError(t, err)
		_, err = r.LookupTLSA(ctx, "", 443)
		assert.ErrorIs(t, err, ErrInvalidHostname)
		_, err = r.LookupTLSA(ctx, "bad\x00host", 443)
		assert.ErrorIs(t, err, ErrInvalidHostname)
		_, err = r.LookupTLSA(ctx, "example.com", 0)
		assert.ErrorIs(t, err, ErrInvalidPort)
	})
}

func TestResolver_ResolvePins(t *testing.T) {
	cert := generateTestCert(t)
	addr := startMockDNS(t, mockZone{records: []*dns.TLSA{spkiRecord(cert)}, setAD: true})

	r, err := NewResolver(&ResolverConfig{Server: addr, RequireAD: true, Timeout: time.Second})
	require.NoError(t, err)

	pins, err := r.ResolvePins(context.Background(), "example.com", 443)
	require.NoError(t, err)

	want, err := hpkp.PinCertificate(cert)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, pins)
}

func TestResolver_ResolvePinsNoUsableRecords(t *testing.T) {
	addr := startMockDNS(t, mockZone{records: []*dns.TLSA{
		{Usage: UsageDANETA, Selector: SelectorFullCert, MatchingType: MatchingSHA256, Certificate: hex.EncodeToString(make([]byte, 32))},
	}})
	r, err := NewResolver(&ResolverConfig{Server: addr, Timeout: time.Second})
	require.NoError(t, err)

	_, err = r.ResolvePins(context.Background(), "example.com", 443)
	assert.ErrorIs(t, err, ErrNoUsablePins)
}
