// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// createTestCertFile writes a self-signed ECDSA P-256 certificate to a
// temporary PEM file and returns the path and the parsed certificate.
func createTestCertFile(t *testing.T) (string, *x509.Certificate) {
	t.Helper()
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test Leaf",
			Organization: []string{"Test"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	return writePEMFile(t, cert), cert
}

// localhostCertificate returns a fresh self-signed server certificate for
// 127.0.0.1, so every test server presents a distinct key.
func localhostCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{certDER}, PrivateKey: privKey}
}

func writePEMFile(t *testing.T, cert *x509.Certificate) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), 0o600))
	return path
}

// captureOutput redirects writeOutput to a temporary file for the duration
// of the test and returns a function reading what was written.
func captureOutput(t *testing.T) func() string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.txt")
	outputFile = path
	t.Cleanup(func() { outputFile = "" })
	return func() string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}
}

// useFormat sets --format for the duration of the test.
func useFormat(t *testing.T, f string) {
	t.Helper()
	format = f
	t.Cleanup(func() { format = "text" })
}

// resetFlags restores every local flag of cmd to its default.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			require.NoError(t, sv.Replace(nil))
		} else {
			require.NoError(t, f.Value.Set(f.DefValue))
		}
		f.Changed = false
	})
}

// setFlags resets cmd and applies the given flag values.
func setFlags(t *testing.T, cmd *cobra.Command, kv ...string) {
	t.Helper()
	resetFlags(t, cmd)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, cmd.Flags().Set(kv[i], kv[i+1]))
	}
}
