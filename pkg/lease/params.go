// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"errors"
	"fmt"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultLeaseDuration is the validity window of a claim.
	DefaultLeaseDuration = 30 * time.Second
	// DefaultRenewGracePeriod is how long before expiry the holder renews.
	DefaultRenewGracePeriod = time.Second
	// DefaultMinPollInterval bounds how often a waiting claimant re-reads the record.
	DefaultMinPollInterval = 500 * time.Millisecond
)

// ErrInvalidParams is returned when ClaimParams fail validation.
var ErrInvalidParams = errors.New("invalid claim parameters")

// RetryConfig defines exponential backoff between store retries.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Only used where a
	// retry budget applies (initialization); claim tasks retry indefinitely.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor applied to the delay after each retry.
	BackoffMultiplier float64
	// Jitter adds up to Jitter*delay of random extra delay.
	Jitter float64
}

// DefaultRetryConfig returns the backoff used for transient store errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// backoff returns a fresh wait.Backoff that grows to MaxBackoff and then
// stays there.
func (c RetryConfig) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: c.InitialBackoff,
		Factor:   c.BackoffMultiplier,
		Jitter:   c.Jitter,
		Steps:    math.MaxInt32,
		Cap:      c.MaxBackoff,
	}
}

func (c RetryConfig) validate() error {
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff must be positive, got %s", ErrInvalidParams, c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: max backoff %s is below initial backoff %s", ErrInvalidParams, c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1, got %v", ErrInvalidParams, c.BackoffMultiplier)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("%w: jitter must not be negative", ErrInvalidParams)
	}
	return nil
}

// ClaimParams configures a claim task.
type ClaimParams struct {
	// LeaseDuration is the validity window written with every claim and renewal.
	LeaseDuration time.Duration
	// RenewGracePeriod is the margin before expiry at which renewal is attempted.
	RenewGracePeriod time.Duration
	// MinPollInterval is the lower bound between reads while another claimant
	// holds the lease.
	MinPollInterval time.Duration
	// Backoff applies to transient store errors.
	Backoff RetryConfig
	// StoreQPS and StoreBurst limit store calls of a single task.
	StoreQPS   float64
	StoreBurst int
}

// DefaultClaimParams returns the parameters used when nothing else is configured.
func DefaultClaimParams() ClaimParams {
	return ClaimParams{
		LeaseDuration:    DefaultLeaseDuration,
		RenewGracePeriod: DefaultRenewGracePeriod,
		MinPollInterval:  DefaultMinPollInterval,
		Backoff:          DefaultRetryConfig(),
		StoreQPS:         20,
		StoreBurst:       10,
	}
}

// withDefaults fills unset optional fields. LeaseDuration and
// RenewGracePeriod are left alone so Validate can reject them.
func (p ClaimParams) withDefaults() ClaimParams {
	def := DefaultClaimParams()
	if p.MinPollInterval == 0 {
		p.MinPollInterval = def.MinPollInterval
	}
	if p.Backoff == (RetryConfig{}) {
		p.Backoff = def.Backoff
	}
	if p.StoreQPS == 0 {
		p.StoreQPS = def.StoreQPS
	}
	if p.StoreBurst == 0 {
		p.StoreBurst = def.StoreBurst
	}
	return p
}

// Validate checks that the parameters describe a workable schedule.
func (p ClaimParams) Validate() error {
	if p.LeaseDuration <= 0 {
		return fmt.Errorf("%w: lease duration must be positive, got %s", ErrInvalidParams, p.LeaseDuration)
	}
	if p.RenewGracePeriod <= 0 {
		return fmt.Errorf("%w: renew grace period must be positive, got %s", ErrInvalidParams, p.RenewGracePeriod)
	}
	if p.RenewGracePeriod >= p.LeaseDuration {
		return fmt.Errorf("%w: renew grace period %s must be shorter than lease duration %s",
			ErrInvalidParams, p.RenewGracePeriod, p.LeaseDuration)
	}
	if p.MinPollInterval <= 0 {
		return fmt.Errorf("%w: min poll interval must be positive, got %s", ErrInvalidParams, p.MinPollInterval)
	}
	if p.StoreQPS <= 0 || p.StoreBurst <= 0 {
		return fmt.Errorf("%w: store rate limit must be positive (qps=%v burst=%d)", ErrInvalidParams, p.StoreQPS, p.StoreBurst)
	}
	return p.Backoff.validate()
}
