// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyExists is returned by Store.CreateIfAbsent when the record exists.
	ErrAlreadyExists = errors.New("lease record already exists")
	// ErrNotFound is returned when the record does not exist.
	ErrNotFound = errors.New("lease record not found")
	// ErrConflict is returned by Store.Update when the stored version no longer
	// matches the expected one.
	ErrConflict = errors.New("lease record was modified concurrently")
	// ErrInvalid is returned when the store rejects the record itself, e.g. an
	// existing object with an incompatible schema. It is not retried.
	ErrInvalid = errors.New("lease record rejected by store")
)

// Store is the coordination store holding lease records. Implementations must
// provide linearizable compare-and-swap on Update and wrap the sentinel errors
// above so that errors.Is matches them. Every other error is treated as
// transient.
type Store interface {
	// CreateIfAbsent creates rec unless a record with the same name exists.
	CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error)
	// Get returns the current record.
	Get(ctx context.Context, name string) (*Record, error)
	// Update replaces the writable fields of the record, provided its version
	// still equals expectedVersion.
	Update(ctx context.Context, name, expectedVersion string, spec Spec) (*Record, error)
}

// IsTransient reports whether err is a store failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalid),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
