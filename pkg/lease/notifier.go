// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"go.uber.org/zap"

	"github.com/telekom/k8s-lease-claim/pkg/metrics"
)

// Notifier receives the structured lease events. Implementations must not
// block; they run on the claim task.
type Notifier interface {
	RecordCreated(rec *Record)
	RecordExisted(name string)
	Acquired(identity string, rec *Record)
	Renewed(identity string, rec *Record)
	// Lost is called when identity no longer holds the lease. rec is the
	// record as last observed and may be nil.
	Lost(identity string, rec *Record)
	Conflict(identity string, phase Phase)
	TransientError(identity string, phase Phase, err error, attempt int)
}

// logNotifier writes events to the log and to the Prometheus metrics.
type logNotifier struct {
	lease string
	log   *zap.SugaredLogger
}

func (n logNotifier) RecordCreated(rec *Record) {
	metrics.LeaseRecordInitialized.WithLabelValues(n.lease, "created").Inc()
	n.log.Infow("Created lease record", "version", rec.Version)
}

func (n logNotifier) RecordExisted(string) {
	metrics.LeaseRecordInitialized.WithLabelValues(n.lease, "existed").Inc()
	n.log.Infow("Lease record already exists, no need to create it")
}

func (n logNotifier) Acquired(identity string, rec *Record) {
	metrics.LeaseAcquired.WithLabelValues(n.lease, identity).Inc()
	metrics.LeaseIsHolder.WithLabelValues(n.lease, identity).Set(1)
	n.log.Infow("Claim acquired", "claimant", identity, "expiry", rec.Expiry(), "transitions", rec.Transitions)
}

func (n logNotifier) Renewed(identity string, rec *Record) {
	metrics.LeaseRenewed.WithLabelValues(n.lease, identity).Inc()
	n.log.Debugw("Claim renewed", "claimant", identity, "expiry", rec.Expiry())
}

func (n logNotifier) Lost(identity string, rec *Record) {
	metrics.LeaseLost.WithLabelValues(n.lease, identity).Inc()
	metrics.LeaseIsHolder.WithLabelValues(n.lease, identity).Set(0)
	holder := ""
	if rec != nil {
		holder = rec.HolderIdentity
	}
	n.log.Warnw("Claim lost", "claimant", identity, "holder", holder)
}

func (n logNotifier) Conflict(identity string, phase Phase) {
	metrics.LeaseConflicts.WithLabelValues(n.lease, identity, phase.String()).Inc()
	n.log.Debugw("Lease record changed concurrently, re-reading", "claimant", identity, "phase", phase.String())
}

func (n logNotifier) TransientError(identity string, phase Phase, err error, attempt int) {
	metrics.LeaseTransientErrors.WithLabelValues(n.lease, identity, phase.String()).Inc()
	n.log.Warnw("Transient lease store error, backing off",
		"claimant", identity, "phase", phase.String(), "attempt", attempt, "error", err)
}

// notifiers fans each event out in order.
type notifiers []Notifier

func (ns notifiers) RecordCreated(rec *Record) {
	for _, n := range ns {
		n.RecordCreated(rec)
	}
}

func (ns notifiers) RecordExisted(name string) {
	for _, n := range ns {
		n.RecordExisted(name)
	}
}

func (ns notifiers) Acquired(identity string, rec *Record) {
	for _, n := range ns {
		n.Acquired(identity, rec)
	}
}

func (ns notifiers) Renewed(identity string, rec *Record) {
	for _, n := range ns {
		n.Renewed(identity, rec)
	}
}

func (ns notifiers) Lost(identity string, rec *Record) {
	for _, n := range ns {
		n.Lost(identity, rec)
	}
}

func (ns notifiers) Conflict(identity string, phase Phase) {
	for _, n := range ns {
		n.Conflict(identity, phase)
	}
}

func (ns notifiers) TransientError(identity string, phase Phase, err error, attempt int) {
	for _, n := range ns {
		n.TransientError(identity, phase, err, attempt)
	}
}
