// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	pinOne   = "cUPcTAZWKaASuYWhhneDttWpY3oBAkE3h2+soZS7sWs="
	pinTwo   = "M8HztCzM3elUxkcjR2S5P4hhyBNf6lHkmjAHKhpGPWE="
	pinThree = "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE="

	testReportURI = "https://www.example.net/hpkp-report"
)

// manualClock is a Clock that only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
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

func mustPin(t *testing.T, cert *x509.Certificate) string {
	t.Helper()
	pin, err := PinCertificate(cert)
	require.NoError(t, err)
	return pin
}

// mustParse parses a Public-Key-Pins value at the given instant.
func mustParse(t *testing.T, value string, now time.Time) *Policy {
	t.Helper()
	p, err := ParseAt(PublicKeyPinsHeader, value, now)
	require.NoError(t, err)
	return p
}
