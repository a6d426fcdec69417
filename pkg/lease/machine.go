// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// Phase is the state of a claim task.
type Phase int32

const (
	// PhaseProbing reads the record and decides whether to claim it.
	PhaseProbing Phase = iota
	// PhaseClaiming writes this claimant as holder.
	PhaseClaiming
	// PhaseHeld waits for the renewal deadline.
	PhaseHeld
	// PhaseRenewing extends the claim.
	PhaseRenewing
	// PhaseBackoff delays after a transient store error before resuming.
	PhaseBackoff
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseProbing:
		return "probing"
	case PhaseClaiming:
		return "claiming"
	case PhaseHeld:
		return "held"
	case PhaseRenewing:
		return "renewing"
	case PhaseBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

func (p Phase) touchesStore() bool {
	return p == PhaseProbing || p == PhaseClaiming || p == PhaseRenewing
}

// machine is the claim state machine of one claimant. It is owned by a
// single task goroutine and never shared.
type machine struct {
	store    Store
	template *Record
	identity string
	params   ClaimParams
	clock    clock.PassiveClock
	notify   Notifier
	observer *Observer
	log      *zap.SugaredLogger

	phase Phase
	// resume is the phase re-entered when a backoff elapses.
	resume Phase
	// belief is the record as last observed or written.
	belief *Record
	// holding is true between Acquired and Lost.
	holding  bool
	lastErr  error
	failures int
	backoff  wait.Backoff
	delay    time.Duration
}

func newMachine(store Store, template *Record, identity string, params ClaimParams,
	clk clock.PassiveClock, notify Notifier, observer *Observer, log *zap.SugaredLogger) *machine {
	return &machine{
		store:    store,
		template: template,
		identity: identity,
		params:   params,
		clock:    clk,
		notify:   notify,
		observer: observer,
		log:      log,
		phase:    PhaseProbing,
		backoff:  params.Backoff.backoff(),
	}
}

// step runs the current phase once and returns how long to wait before the
// next step. A non-nil error is unrecoverable and ends the task.
func (m *machine) step(ctx context.Context) (time.Duration, error) {
	switch m.phase {
	case PhaseProbing:
		return m.probe(ctx)
	case PhaseClaiming:
		return m.claim(ctx)
	case PhaseHeld:
		return m.hold(), nil
	case PhaseRenewing:
		return m.renew(ctx)
	case PhaseBackoff:
		m.enter(m.resume)
		return m.delay, nil
	}
	return 0, fmt.Errorf("unknown claim phase %d", m.phase)
}

func (m *machine) probe(ctx context.Context) (time.Duration, error) {
	rec, err := m.store.Get(ctx, m.template.Name)
	if errors.Is(err, ErrNotFound) {
		rec, err = m.recreate(ctx)
	}
	if err != nil {
		return m.fail(ctx, PhaseProbing, PhaseProbing, err)
	}
	m.succeeded()
	m.belief = rec

	now := m.clock.Now()
	switch {
	case rec.HeldBy(m.identity, now):
		// An earlier incarnation under the same identity still holds it.
		m.acquired()
		m.enter(PhaseHeld)
		return 0, nil
	case rec.Claimable(now):
		m.publish()
		m.enter(PhaseClaiming)
		return 0, nil
	}
	m.publish()
	return m.pollDelay(now), nil
}

// recreate puts back a record that was deleted behind our back.
func (m *machine) recreate(ctx context.Context) (*Record, error) {
	m.log.Infow("Lease record not found, re-creating it", "claimant", m.identity)
	rec, err := m.store.CreateIfAbsent(ctx, m.template.DeepCopy())
	if errors.Is(err, ErrAlreadyExists) {
		return m.store.Get(ctx, m.template.Name)
	}
	return rec, err
}

func (m *machine) claim(ctx context.Context) (time.Duration, error) {
	now := m.clock.Now()
	spec := Spec{
		HolderIdentity: m.identity,
		AcquireTime:    now,
		RenewTime:      now,
		Duration:       m.params.LeaseDuration,
		Transitions:    m.belief.Transitions,
	}
	if m.belief.HolderIdentity != m.identity {
		spec.Transitions++
	}

	rec, err := m.store.Update(ctx, m.template.Name, m.belief.Version, spec)
	switch {
	case err == nil:
		m.succeeded()
		m.belief = rec
		m.acquired()
		m.enter(PhaseHeld)
	case errors.Is(err, ErrConflict):
		// Another claimant moved first.
		m.notify.Conflict(m.identity, PhaseClaiming)
		m.enter(PhaseProbing)
	case errors.Is(err, ErrNotFound):
		m.enter(PhaseProbing)
	default:
		return m.fail(ctx, PhaseClaiming, PhaseProbing, err)
	}
	return 0, nil
}

// hold schedules the renewal RenewGracePeriod before expiry.
func (m *machine) hold() time.Duration {
	renewAt := m.belief.Expiry().Add(-m.params.RenewGracePeriod)
	m.enter(PhaseRenewing)
	if d := renewAt.Sub(m.clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (m *machine) renew(ctx context.Context) (time.Duration, error) {
	spec := m.belief.Spec()
	spec.RenewTime = m.clock.Now()
	spec.Duration = m.params.LeaseDuration

	rec, err := m.store.Update(ctx, m.template.Name, m.belief.Version, spec)
	switch {
	case err == nil:
		m.succeeded()
		m.belief = rec
		m.publish()
		m.notify.Renewed(m.identity, rec)
		m.enter(PhaseHeld)
	case errors.Is(err, ErrConflict):
		m.notify.Conflict(m.identity, PhaseRenewing)
		return m.resync(ctx)
	case errors.Is(err, ErrNotFound):
		m.lose(nil)
	default:
		return m.fail(ctx, PhaseRenewing, PhaseRenewing, err)
	}
	return 0, nil
}

// resync re-reads the record after a renewal conflict and decides whether
// the claim survived.
func (m *machine) resync(ctx context.Context) (time.Duration, error) {
	rec, err := m.store.Get(ctx, m.template.Name)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		m.lose(nil)
		return 0, nil
	default:
		return m.fail(ctx, PhaseRenewing, PhaseRenewing, err)
	}
	m.succeeded()

	if rec.HeldBy(m.identity, m.clock.Now()) {
		m.log.Debugw("Lease record changed but is still held, resynchronized version",
			"claimant", m.identity, "version", rec.Version)
		m.belief = rec
		m.publish()
		m.enter(PhaseHeld)
		return 0, nil
	}
	m.lose(rec)
	return 0, nil
}

// fail handles a store error raised in phase. Transient errors move to
// PhaseBackoff and then to resume. While renewing, the claim is given up once
// the next attempt could not start before the lease expires.
func (m *machine) fail(ctx context.Context, phase, resume Phase, err error) (time.Duration, error) {
	if errors.Is(err, ErrInvalid) || ctx.Err() != nil {
		return 0, err
	}
	m.lastErr = err
	m.failures++
	m.notify.TransientError(m.identity, phase, err, m.failures)
	m.delay = m.backoff.Step()

	if phase == PhaseRenewing && !m.clock.Now().Add(m.delay).Before(m.belief.Expiry()) {
		m.log.Warnw("Renewal retries cannot complete before expiry, assuming the claim is lost",
			"claimant", m.identity, "attempts", m.failures, "expiry", m.belief.Expiry())
		m.lose(nil)
		return 0, nil
	}
	m.resume = resume
	m.enter(PhaseBackoff)
	return 0, nil
}

func (m *machine) succeeded() {
	if m.failures > 0 {
		m.log.Infow("Lease store reachable again", "claimant", m.identity, "failedAttempts", m.failures)
	}
	m.failures = 0
	m.lastErr = nil
	m.backoff = m.params.Backoff.backoff()
}

// acquired and lose publish before notifying, so observers never lag behind
// a notifier.
func (m *machine) acquired() {
	m.holding = true
	m.publish()
	m.notify.Acquired(m.identity, m.belief)
}

// lose drops the claim. rec is the newly observed record, nil when unknown.
func (m *machine) lose(rec *Record) {
	m.holding = false
	if rec != nil {
		m.belief = rec
	}
	m.publish()
	m.notify.Lost(m.identity, rec)
	m.enter(PhaseProbing)
}

// pollDelay wakes up shortly before the holder's claim expires, after it
// should have renewed, but never earlier than MinPollInterval.
func (m *machine) pollDelay(now time.Time) time.Duration {
	remaining := m.belief.Expiry().Sub(now)
	d := remaining - m.params.RenewGracePeriod/2
	if d <= 0 {
		d = remaining
	}
	if d < m.params.MinPollInterval {
		d = m.params.MinPollInterval
	}
	return d
}

// view is the claim observers should see. A record naming this claimant is
// only reported while the claim is held, so a conservatively dropped claim
// is never reported as ours.
func (m *machine) view() *Claim {
	if !m.holding && m.belief != nil && m.belief.HolderIdentity == m.identity {
		return nil
	}
	return m.belief.claim()
}

func (m *machine) publish() {
	m.observer.publish(m.view())
}

func (m *machine) enter(p Phase) {
	if p != m.phase {
		m.log.Debugw("Claim phase transition", "claimant", m.identity, "from", m.phase.String(), "to", p.String())
	}
	m.phase = p
}
