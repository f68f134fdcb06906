// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package preload seeds a pin store from a YAML file so that hosts are
// protected from the very first connection.
//
//	hosts:
//	  - host: example.com
//	    pins:
//	      - "cUPcTAZWKaASuYWhhneDttWpY3oBAkE3h2+soZS7sWs="
//	      - "M8HztCzM3elUxkcjR2S5P4hhyBNf6lHkmjAHKhpGPWE="
//	    max_age: 5184000
//	    include_subdomains: true
//	  - host: dane.example.org
//	    dane: true
//	    max_age: 86400
package preload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

// ErrInvalidPreload indicates a preload file that cannot be applied.
var ErrInvalidPreload = errors.New("preload: invalid preload file")

const defaultDANEPort = 443

// Entry is one preloaded host.
type Entry struct {
	Host              string   `yaml:"host"`
	Pins              []string `yaml:"pins,omitempty"`
	MaxAge            uint32   `yaml:"max_age"`
	IncludeSubdomains bool     `yaml:"include_subdomains,omitempty"`
	ReportURI         string   `yaml:"report_uri,omitempty"`

	// DANE adds the pins published in the host's TLSA records.
	DANE bool `yaml:"dane,omitempty"`

	// Port selects the TLSA owner name for DANE entries. Defaults to 443.
	Port uint16 `yaml:"port,omitempty"`
}

// File is a parsed preload file.
type File struct {
	Hosts []Entry `yaml:"hosts"`
}

// PinResolver supplies pins from an out-of-band source such as DNS.
type PinResolver interface {
	ResolvePins(ctx context.Context, hostname string, port uint16) ([]string, error)
}

// Path returns the preload file location within the given config home.
func Path(configHome string) string {
	return filepath.Join(configHome, "hpkp", "preload.yaml")
}

// DefaultPath returns the preload file location under the XDG config home.
func DefaultPath() string {
	return Path(xdg.ConfigHome)
}

// Load reads and parses the preload file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading preload file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing preload file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a preload document and checks every entry. Unknown keys
// are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPreload, err)
	}
	for i, e := range f.Hosts {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("%w: hosts[%d]: %w", ErrInvalidPreload, i, err)
		}
	}
	return &f, nil
}

func (e Entry) validate() error {
	switch {
	case e.Host == "":
		return errors.New("host is required")
	case e.MaxAge == 0:
		return fmt.Errorf("%s: max_age must be positive", e.Host)
	case len(e.Pins) == 0 && !e.DANE:
		return fmt.Errorf("%s: pins are required unless dane is set", e.Host)
	}
	return nil
}

// Header returns the Public-Key-Pins value equivalent to the entry with
// the given pins.
func (e Entry) Header(pins []string) string {
	return hpkp.Directives{
		Pins:              pins,
		MaxAge:            e.MaxAge,
		IncludeSubdomains: e.IncludeSubdomains,
		ReportURI:         e.ReportURI,
	}.String()
}

// Apply adds every entry to store as if its header had been received at the
// current time of clock. resolver may be nil when no entry sets dane. It
// returns the number of entries applied and stops at the first failure.
func (f *File) Apply(ctx context.Context, store hpkp.Store, clock hpkp.Clock, resolver PinResolver) (int, error) {
	applied := 0
	for _, e := range f.Hosts {
		p, err := e.policy(ctx, clock, resolver)
		if err != nil {
			return applied, err
		}
		if err := store.Add(ctx, hpkp.CanonicalHost(e.Host), p); err != nil {
			return applied, fmt.Errorf("preloading %s: %w", e.Host, err)
		}
		applied++
	}
	return applied, nil
}

func (e Entry) policy(ctx context.Context, clock hpkp.Clock, resolver PinResolver) (*hpkp.Policy, error) {
	pins := append([]string(nil), e.Pins...)
	if e.DANE {
		if resolver == nil {
			return nil, fmt.Errorf("%w: %s: dane entry without a resolver", ErrInvalidPreload, e.Host)
		}
		port := e.Port
		if port == 0 {
			port = defaultDANEPort
		}
		extra, err := resolver.ResolvePins(ctx, e.Host, port)
		if err != nil {
			return nil, fmt.Errorf("resolving TLSA pins for %s: %w", e.Host, err)
		}
		pins = append(pins, extra...)
	}

	p, err := hpkp.ParseAt(hpkp.PublicKeyPinsHeader, e.Header(pins), clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPreload, e.Host, err)
	}
	return p, nil
}
