// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Task is the handle of a running claim task.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startTask(parent context.Context, m *machine, clk clock.Clock, limiter *rate.Limiter) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go t.run(ctx, m, clk, limiter)
	return t
}

// Cancel stops the task. It does not wait for it to finish and does not
// release the lease; other claimants take over once it expires.
func (t *Task) Cancel() {
	t.cancel()
}

// Stop cancels the task and waits until it has finished.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the unrecoverable error that ended the task. It is nil while
// the task runs and after a cancellation.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) run(ctx context.Context, m *machine, clk clock.Clock, limiter *rate.Limiter) {
	defer close(t.done)
	m.log.Infow("Starting claim task", "claimant", m.identity,
		"leaseDuration", m.params.LeaseDuration.String(), "renewGracePeriod", m.params.RenewGracePeriod.String())

	t.err = drive(ctx, m, clk, limiter)
	if t.err != nil {
		m.log.Errorw("Claim task terminated", "claimant", m.identity, "phase", m.phase.String(), "error", t.err)
	} else {
		m.log.Infow("Claim task stopped", "claimant", m.identity, "phase", m.phase.String(), "lastError", m.lastErr)
	}
	m.observer.close(t.err)
}

// drive steps the machine until ctx is cancelled or a step fails
// unrecoverably. Cancellation is not an error.
func drive(ctx context.Context, m *machine, clk clock.Clock, limiter *rate.Limiter) error {
	for {
		if m.phase.touchesStore() {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		delay, err := m.step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if delay <= 0 {
			continue
		}

		timer := clk.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}
