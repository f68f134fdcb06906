// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package hpkp

import "time"

// Clock is the single time source used for policy expiry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
