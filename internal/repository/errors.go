// Package repository stores persisted session records.  Every backend keeps
// opaque byte payloads under a string key; encoding lives with the session
// package so that all backends share one record format.
package repository

import "errors"

// ErrNotFound is returned by Load when no record exists under the key.
// Callers treat it as "nothing to restore" rather than a failure.
var ErrNotFound = errors.New("record not found")
