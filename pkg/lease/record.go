// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"maps"
	"time"
)

// Record is the lease as persisted in the store.
type Record struct {
	// Name identifies the lease. At most one record exists per name.
	Name string
	// Namespace is the logical partition the record lives in.
	Namespace string
	// HolderIdentity is the current claimant. Empty means unclaimed.
	HolderIdentity string
	// AcquireTime is when the current holder began holding.
	AcquireTime time.Time
	// RenewTime is the most recent successful renewal by the current holder.
	RenewTime time.Time
	// Duration is the declared validity window counted from RenewTime.
	Duration time.Duration
	// Transitions counts holder changes and serves as the lease generation.
	Transitions int32
	// Version is the optimistic-concurrency token of the stored record.
	Version string
	// Labels are attached when the record is created.
	Labels map[string]string
}

// Spec is the writable part of a Record.
type Spec struct {
	HolderIdentity string
	AcquireTime    time.Time
	RenewTime      time.Time
	Duration       time.Duration
	Transitions    int32
}

// Expiry returns the instant after which the claim is no longer valid.
func (r *Record) Expiry() time.Time {
	return r.RenewTime.Add(r.Duration)
}

// Claimable reports whether the lease may be taken over at now: nobody holds
// it, or the holder's claim expired.
func (r *Record) Claimable(now time.Time) bool {
	if r == nil || r.HolderIdentity == "" {
		return true
	}
	return now.After(r.Expiry())
}

// HeldBy reports whether identity holds a valid claim at now.
func (r *Record) HeldBy(identity string, now time.Time) bool {
	if r == nil || identity == "" {
		return false
	}
	return r.HolderIdentity == identity && !r.Claimable(now)
}

// Spec returns the writable fields of the record.
func (r *Record) Spec() Spec {
	return Spec{
		HolderIdentity: r.HolderIdentity,
		AcquireTime:    r.AcquireTime,
		RenewTime:      r.RenewTime,
		Duration:       r.Duration,
		Transitions:    r.Transitions,
	}
}

// DeepCopy returns an independent copy of the record.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Labels = maps.Clone(r.Labels)
	return &out
}

// claim converts the record into what observers see. Unclaimed records
// become nil.
func (r *Record) claim() *Claim {
	if r == nil || r.HolderIdentity == "" {
		return nil
	}
	return &Claim{Holder: r.HolderIdentity, Expiry: r.Expiry()}
}
