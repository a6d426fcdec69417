// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package memstore provides an in-process lease.Store with linearizable
// compare-and-swap, used to simulate a coordination store in tests and
// single-process setups. Reactors allow failures to be injected per call.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
)

// Verb names a Store operation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbGet    Verb = "get"
	VerbUpdate Verb = "update"
)

// Reactor is consulted before every operation. If handled is true the
// operation is aborted with err (which may be nil to drop the call silently,
// reported to the caller as a transient error).
type Reactor func(verb Verb, name string) (handled bool, err error)

// Store is an in-memory lease.Store. The zero value is not usable, use New.
type Store struct {
	mu       sync.Mutex
	records  map[string]*lease.Record
	revision uint64
	reactors []Reactor
	calls    map[Verb]int
}

var _ lease.Store = &Store{}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*lease.Record),
		calls:   make(map[Verb]int),
	}
}

// PrependReactor installs r ahead of the existing reactors.
func (s *Store) PrependReactor(r Reactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactors = append([]Reactor{r}, s.reactors...)
}

// ClearReactors removes all reactors.
func (s *Store) ClearReactors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactors = nil
}

// Calls returns how often verb was invoked, including rejected calls.
func (s *Store) Calls(verb Verb) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[verb]
}

// react runs the reactors; callers hold s.mu.
func (s *Store) react(verb Verb, name string) error {
	s.calls[verb]++
	for _, r := range s.reactors {
		if handled, err := r(verb, name); handled {
			if err == nil {
				err = fmt.Errorf("%s %q dropped by reactor", verb, name)
			}
			return err
		}
	}
	return nil
}

func (s *Store) nextVersion() string {
	s.revision++
	return strconv.FormatUint(s.revision, 10)
}

// CreateIfAbsent implements lease.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, rec *lease.Record) (*lease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.react(VerbCreate, rec.Name); err != nil {
		return nil, err
	}
	if _, ok := s.records[rec.Name]; ok {
		return nil, fmt.Errorf("%w: %s", lease.ErrAlreadyExists, rec.Name)
	}
	stored := rec.DeepCopy()
	stored.Version = s.nextVersion()
	s.records[rec.Name] = stored
	return stored.DeepCopy(), nil
}

// Get implements lease.Store.
func (s *Store) Get(ctx context.Context, name string) (*lease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.react(VerbGet, name); err != nil {
		return nil, err
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lease.ErrNotFound, name)
	}
	return rec.DeepCopy(), nil
}

// Update implements lease.Store.
func (s *Store) Update(ctx context.Context, name, expectedVersion string, spec lease.Spec) (*lease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.react(VerbUpdate, name); err != nil {
		return nil, err
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lease.ErrNotFound, name)
	}
	if rec.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s has version %s, expected %s", lease.ErrConflict, name, rec.Version, expectedVersion)
	}
	rec.HolderIdentity = spec.HolderIdentity
	rec.AcquireTime = spec.AcquireTime
	rec.RenewTime = spec.RenewTime
	rec.Duration = spec.Duration
	rec.Transitions = spec.Transitions
	rec.Version = s.nextVersion()
	return rec.DeepCopy(), nil
}

// List returns all records ordered by name. Reactors are not consulted.
func (s *Store) List(ctx context.Context) ([]*lease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*lease.Record, 0, len(s.records))
	for _, name := range slices.Sorted(maps.Keys(s.records)) {
		out = append(out, s.records[name].DeepCopy())
	}
	return out, nil
}

// Snapshot returns the stored record without going through reactors, nil if
// absent.
func (s *Store) Snapshot(name string) *lease.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[name].DeepCopy()
}

// Put overwrites the record unconditionally, as an external actor would.
func (s *Store) Put(rec *lease.Record) *lease.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := rec.DeepCopy()
	stored.Version = s.nextVersion()
	s.records[rec.Name] = stored
	return stored.DeepCopy()
}

// Delete removes the record.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
}
