// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease_test

import (
	"sync"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
)

// event is one notification received by a recorder.
type event struct {
	kind     string
	identity string
	holder   string
	phase    lease.Phase
	attempt  int
}

// recorder is a lease.Notifier that keeps every event for assertions.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) RecordCreated(*lease.Record) { r.add(event{kind: "created"}) }
func (r *recorder) RecordExisted(string) { r.add(event{kind: "existed"}) }

func (r *recorder) Acquired(identity string, rec *lease.Record) {
	r.add(event{kind: "acquired", identity: identity, holder: rec.HolderIdentity})
}

func (r *recorder) Renewed(identity string, rec *lease.Record) {
	r.add(event{kind: "renewed", identity: identity, holder: rec.HolderIdentity})
}

func (r *recorder) Lost(identity string, rec *lease.Record) {
	e := event{kind: "lost", identity: identity}
	if rec != nil {
		e.holder = rec.HolderIdentity
	}
	r.add(e)
}

func (r *recorder) Conflict(identity string, phase lease.Phase) {
	r.add(event{kind: "conflict", identity: identity, phase: phase})
}

func (r *recorder) TransientError(identity string, phase lease.Phase, _ error, attempt int) {
	r.add(event{kind: "transient", identity: identity, phase: phase, attempt: attempt})
}

// kinds returns the event kinds in order.
func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last() event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return event{}
	}
	return r.events[len(r.events)-1]
}

// gatedNotifier blocks the claim task inside the notification named by kind
// until release is closed. entered is closed the first time it blocks.
type gatedNotifier struct {
	recorder
	kind    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedNotifier(kind string) *gatedNotifier {
	return &gatedNotifier{kind: kind, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedNotifier) wait(kind string) {
	if kind != g.kind {
		return
	}
	g.once.Do(func() { close(g.entered) })
	<-g.release
}

func (g *gatedNotifier) Acquired(identity string, rec *lease.Record) {
	g.recorder.Acquired(identity, rec)
	g.wait("acquired")
}

func (g *gatedNotifier) Lost(identity string, rec *lease.Record) {
	g.recorder.Lost(identity, rec)
	g.wait("lost")
}
