// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import (
	"strings"
	"time"
)

// NormalizeHostname returns the store key for hostname.
//
// Every occurrence of "www." is removed, not only a leading one, so
// "foo.www.example.com" folds onto "foo.example.com". Store lookups depend on
// this exact transform; changing it changes which hosts share a policy.
func NormalizeHostname(hostname string) string {
	return strings.ReplaceAll(hostname, "www.", "")
}

// CandidateKeys returns the keys searched for hostname, most specific first:
// the normalized hostname, then the same with one, two, ... leftmost labels
// stripped. Index i of the result corresponds to lookup level i+1.
func CandidateKeys(hostname string) []string {
	labels := strings.Split(NormalizeHostname(hostname), ".")
	keys := make([]string, 0, len(labels))
	for offset := range labels {
		keys = append(keys, strings.Join(labels[offset:], "."))
	}
	return keys
}

// Governs reports whether a policy found at the given lookup level applies
// to the queried host at now. Level 1 is an exact match; deeper levels are
// ancestor domains and only apply with includeSubdomains.
func Governs(p *Policy, level int, now time.Time) bool {
	if p == nil {
		return false
	}
	if level > 1 && !p.IncludeSubdomains() {
		return false
	}
	return !p.Expired(now)
}
