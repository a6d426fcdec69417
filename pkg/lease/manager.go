// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Manager initializes a lease record and spawns claim tasks for it.
type Manager struct {
	store     Store
	template  Record
	log       *zap.SugaredLogger
	clock     clock.Clock
	extra     []Notifier
	notify    notifiers
	initRetry RetryConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithLabels sets labels attached to the record when it is created.
func WithLabels(labels map[string]string) Option {
	return func(m *Manager) {
		m.template.Labels = maps.Clone(labels)
	}
}

// WithNotifier adds a receiver of lease events next to logging and metrics.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.extra = append(m.extra, n)
		}
	}
}

// WithClock replaces the real clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithInitRetry allows transient errors during initialization to be retried
// up to cfg.MaxRetries times. By default initialization fails on the first
// transient error.
func WithInitRetry(cfg RetryConfig) Option {
	return func(m *Manager) {
		m.initRetry = cfg
	}
}

// Init creates the lease record name unless it already exists and returns a
// Manager for it. An existing record is left unchanged.
func Init(ctx context.Context, store Store, name string, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: lease store is required", ErrInvalidParams)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: lease name is required", ErrInvalidParams)
	}
	m := &Manager{
		store:     store,
		template:  Record{Name: name},
		log:       zap.NewNop().Sugar(),
		clock:     clock.RealClock{},
		initRetry: RetryConfig{MaxRetries: 0},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.initRetry.InitialBackoff == 0 {
		def := DefaultRetryConfig()
		def.MaxRetries = m.initRetry.MaxRetries
		m.initRetry = def
	}
	m.log = m.log.With("lease", name)
	m.notify = append(notifiers{logNotifier{lease: name, log: m.log}}, m.extra...)

	if err := m.initRecord(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initRecord(ctx context.Context) error {
	backoff := m.initRetry.backoff()
	for attempt := 0; ; attempt++ {
		rec, err := m.store.CreateIfAbsent(ctx, m.template.DeepCopy())
		switch {
		case err == nil:
			m.notify.RecordCreated(rec)
			return nil
		case errors.Is(err, ErrAlreadyExists):
			m.notify.RecordExisted(m.template.Name)
			return nil
		case !IsTransient(err) || attempt >= m.initRetry.MaxRetries:
			m.log.Errorw("Error creating lease record", "attempts", attempt+1, "error", err)
			return fmt.Errorf("failed to initialize lease %q: %w", m.template.Name, err)
		}

		delay := backoff.Step()
		m.log.Warnw("Lease record initialization failed, retrying",
			"attempt", attempt+1,
			"maxRetries", m.initRetry.MaxRetries,
			"backoff", delay.String(),
			"error", err,
		)
		timer := m.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}

// Name returns the lease name.
func (m *Manager) Name() string {
	return m.template.Name
}

// Get reads the current record from the store.
func (m *Manager) Get(ctx context.Context) (*Record, error) {
	return m.store.Get(ctx, m.template.Name)
}

// Spawn starts a claim task for identity. The task runs until ctx is
// cancelled, Task.Cancel is called or the store rejects the record. The
// returned Observer reports the holder as seen by this task.
func (m *Manager) Spawn(ctx context.Context, identity string, params ClaimParams) (*Observer, *Task, error) {
	if identity == "" {
		return nil, nil, fmt.Errorf("%w: claimant identity is required", ErrInvalidParams)
	}
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	observer := newObserver(m.clock)
	mach := newMachine(m.store, m.template.DeepCopy(), identity, params, m.clock, m.notify, observer, m.log)
	limiter := rate.NewLimiter(rate.Limit(params.StoreQPS), params.StoreBurst)
	return observer, startTask(ctx, mach, m.clock, limiter), nil
}
