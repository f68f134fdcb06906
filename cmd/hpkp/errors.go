// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"errors"

	"github.com/jeremyhahn/go-hpkp/pkg/hpkp"
)

// Exit codes for the CLI.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitFailure indicates a fetch, lookup or pin validation failure.
	ExitFailure = 1

	// ExitConfigError indicates a configuration or input validation error.
	ExitConfigError = 2
)

// Sentinel errors for CLI operations.
var (
	// ErrInvalidInput is returned when required input parameters are missing or invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrFetchFailed is returned when an HTTPS request through the pinning
	// transport fails for a reason other than pin validation.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrLookupFailed is returned when a TLSA lookup fails.
	ErrLookupFailed = errors.New("lookup failed")

	// ErrStoreUnavailable is returned when the pin store cannot be opened.
	ErrStoreUnavailable = errors.New("pin store unavailable")

	// ErrFileOperation is returned when a file read or write operation fails.
	ErrFileOperation = errors.New("file operation failed")
)

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrInvalidInput), errors.Is(err, hpkp.ErrInvalidConfig):
		return ExitConfigError
	default:
		return ExitFailure
	}
}
