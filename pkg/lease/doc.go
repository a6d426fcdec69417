// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package lease implements lease-based leader election over a single shared
// record in a strongly-consistent store. A Manager initializes the record and
// spawns claim tasks; each task drives a claim state machine that acquires,
// renews and loses the lease, and publishes the current holder to an Observer
// that any number of local consumers can read or block on.
package lease
