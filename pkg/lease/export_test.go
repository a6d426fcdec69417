// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Machine exposes the claim state machine to the external test package.
type Machine = machine

// NewTestMachine returns a machine for name that is stepped by hand.
func NewTestMachine(store Store, name, identity string, params ClaimParams, clk clock.PassiveClock, n Notifier, log *zap.SugaredLogger) (*Machine, *Observer) {
	if n == nil {
		n = notifiers{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	obs := newObserver(clk)
	return newMachine(store, &Record{Name: name}, identity, params.withDefaults(), clk, n, obs, log), obs
}

func (m *machine) Step(ctx context.Context) (time.Duration, error) { return m.step(ctx) }
func (m *machine) Phase() Phase { return m.phase }
func (m *machine) Belief() *Record { return m.belief }
func (m *machine) Holding() bool { return m.holding }
func (m *machine) Failures() int { return m.failures }
