// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// ErrObserverClosed is returned by Observer.WaitFor when the claim task
// terminated before the predicate was satisfied.
var ErrObserverClosed = errors.New("lease observer closed: claim task terminated")

// Claim is the holder of a lease as last observed by a claim task.
type Claim struct {
	Holder string
	Expiry time.Time

	// clock is the claim task's clock; nil means wall time.
	clock clock.PassiveClock
}

// IsCurrent reports whether the claim has not expired yet, judged by the
// clock of the claim task that published it.
func (c *Claim) IsCurrent() bool {
	if c == nil {
		return false
	}
	now := time.Now()
	if c.clock != nil {
		now = c.clock.Now()
	}
	return c.IsCurrentAt(now)
}

// IsCurrentAt reports whether the claim has not expired at now.
func (c *Claim) IsCurrentAt(now time.Time) bool {
	return c != nil && now.Before(c.Expiry)
}

// IsCurrentFor reports whether identity holds an unexpired claim.
func (c *Claim) IsCurrentFor(identity string) bool {
	return c.IsCurrent() && c.Holder == identity
}

func (c *Claim) equal(o *Claim) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Holder == o.Holder && c.Expiry.Equal(o.Expiry)
}

// observation is an immutable snapshot. changed is closed when the next
// snapshot replaces this one.
type observation struct {
	claim   *Claim
	closed  bool
	err     error
	changed chan struct{}
}

// Observer broadcasts the current holder of a lease from a single writer,
// the claim task, to any number of readers.
type Observer struct {
	state atomic.Pointer[observation]
	clock clock.PassiveClock
}

func newObserver(clk clock.PassiveClock) *Observer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	o := &Observer{clock: clk}
	o.state.Store(&observation{changed: make(chan struct{})})
	return o
}

// Get returns the latest published claim, nil if the lease is unclaimed.
func (o *Observer) Get() *Claim {
	return o.state.Load().claim
}

// Holder returns the identity of the latest published holder whose claim is
// still current by the claim task's clock, or an empty string.
func (o *Observer) Holder() string {
	c := o.Get()
	if !c.IsCurrent() {
		return ""
	}
	return c.Holder
}

// Changed returns a channel that is closed on the next publication or when
// the observer closes.
func (o *Observer) Changed() <-chan struct{} {
	return o.state.Load().changed
}

// Closed reports whether the claim task has terminated.
func (o *Observer) Closed() bool {
	return o.state.Load().closed
}

// Err returns the error the claim task terminated with, nil on cancellation
// or while it is still running.
func (o *Observer) Err() error {
	return o.state.Load().err
}

// WaitFor blocks until pred holds for the published claim and returns that
// claim. pred is re-evaluated on every publication. It fails with
// ErrObserverClosed if the claim task terminated first, or with the context
// error if ctx is done.
func (o *Observer) WaitFor(ctx context.Context, pred func(*Claim) bool) (*Claim, error) {
	for {
		s := o.state.Load()
		if pred(s.claim) {
			return s.claim, nil
		}
		if s.closed {
			return s.claim, ErrObserverClosed
		}
		select {
		case <-ctx.Done():
			return s.claim, ctx.Err()
		case <-s.changed:
		}
	}
}

// publish replaces the current claim. The new snapshot is stored before the
// previous one is signalled, so woken waiters always see it. Only the claim
// task calls publish.
func (o *Observer) publish(c *Claim) bool {
	prev := o.state.Load()
	if prev.closed || prev.claim.equal(c) {
		return false
	}
	if c != nil {
		stamped := *c
		stamped.clock = o.clock
		c = &stamped
	}
	o.state.Store(&observation{claim: c, changed: make(chan struct{})})
	close(prev.changed)
	return true
}

// close marks the observer terminated, keeping the last claim.
func (o *Observer) close(err error) {
	prev := o.state.Load()
	if prev.closed {
		return
	}
	o.state.Store(&observation{claim: prev.claim, closed: true, err: err, changed: prev.changed})
	close(prev.changed)
}
