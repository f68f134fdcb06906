// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package redisstore

import "errors"

// ErrTooManyRetries is returned when an update kept losing the optimistic
// transaction race against concurrent writers of the same host.
var ErrTooManyRetries = errors.New("redisstore: too many transaction retries")
