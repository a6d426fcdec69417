// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
	"github.com/telekom/k8s-lease-claim/pkg/lease/memstore"
	"github.com/telekom/k8s-lease-claim/pkg/system"
)

func fastInitRetry(maxRetries int) lease.RetryConfig {
	return lease.RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestInitCreatesRecord(t *testing.T) {
	store := memstore.New()
	log, logs := system.NewObservedLogger(zapcore.InfoLevel)
	notes := &recorder{}

	mgr, err := lease.Init(context.Background(), store, leaseName,
		lease.WithLogger(log),
		lease.WithLabels(map[string]string{"app.kubernetes.io/managed-by": "lease-claim"}),
		lease.WithNotifier(notes),
	)
	require.NoError(t, err)
	assert.Equal(t, leaseName, mgr.Name())

	rec, err := mgr.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.HolderIdentity, "a new record is unclaimed")
	assert.Equal(t, "lease-claim", rec.Labels["app.kubernetes.io/managed-by"])

	assert.Equal(t, []string{"created"}, notes.kinds())
	created := logs.FilterMessage("Created lease record").All()
	require.Len(t, created, 1)
	assert.Equal(t, leaseName, created[0].ContextMap()["lease"])
}

func TestInitIsIdempotent(t *testing.T) {
	store := memstore.New()
	now := time.Now()
	existing := store.Put(&lease.Record{
		Name:           leaseName,
		HolderIdentity: "a",
		AcquireTime:    now,
		RenewTime:      now,
		Duration:       time.Minute,
		Transitions:    7,
		Labels:         map[string]string{"owner": "first"},
	})
	notes := &recorder{}

	for range 3 {
		_, err := lease.Init(context.Background(), store, leaseName,
			lease.WithLabels(map[string]string{"owner": "second"}),
			lease.WithNotifier(notes),
		)
		require.NoError(t, err)
	}

	assert.Equal(t, existing, store.Snapshot(leaseName), "an existing record is left unchanged")
	assert.Equal(t, []string{"existed", "existed", "existed"}, notes.kinds())
}

func TestInitValidation(t *testing.T) {
	_, err := lease.Init(context.Background(), nil, leaseName)
	assert.ErrorIs(t, err, lease.ErrInvalidParams)

	_, err = lease.Init(context.Background(), memstore.New(), "")
	assert.ErrorIs(t, err, lease.ErrInvalidParams)
}

func TestInitFailsWithoutRetryBudget(t *testing.T) {
	store := memstore.New()
	store.PrependReactor(failVerb(memstore.VerbCreate, errors.New("connection refused")))
	log, logs := system.NewObservedLogger(zapcore.InfoLevel)

	_, err := lease.Init(context.Background(), store, leaseName, lease.WithLogger(log))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize lease")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, store.Calls(memstore.VerbCreate))
	assert.Equal(t, 1, logs.FilterMessage("Error creating lease record").Len())
}

func TestInitRetriesTransientErrors(t *testing.T) {
	store := memstore.New()
	failures := 2
	store.PrependReactor(func(verb memstore.Verb, _ string) (bool, error) {
		if verb == memstore.VerbCreate && failures > 0 {
			failures--
			return true, errors.New("etcdserver: request timed out")
		}
		return false, nil
	})
	log, logs := system.NewObservedLogger(zapcore.InfoLevel)

	_, err := lease.Init(context.Background(), store, leaseName, lease.WithLogger(log), lease.WithInitRetry(fastInitRetry(2)))
	require.NoError(t, err)
	assert.Equal(t, 3, store.Calls(memstore.VerbCreate))
	assert.Equal(t, 2, logs.FilterMessage("Lease record initialization failed, retrying").Len())
	assert.NotNil(t, store.Snapshot(leaseName))
}

func TestInitRetryBudgetExhausted(t *testing.T) {
	store := memstore.New()
	store.PrependReactor(failVerb(memstore.VerbCreate, errors.New("connection refused")))

	_, err := lease.Init(context.Background(), store, leaseName, lease.WithInitRetry(fastInitRetry(2)))
	require.Error(t, err)
	assert.Equal(t, 3, store.Calls(memstore.VerbCreate))
}

func TestInitDoesNotRetryInvalid(t *testing.T) {
	store := memstore.New()
	store.PrependReactor(failVerb(memstore.VerbCreate, lease.ErrInvalid))

	_, err := lease.Init(context.Background(), store, leaseName, lease.WithInitRetry(fastInitRetry(5)))
	require.Error(t, err)
	assert.ErrorIs(t, err, lease.ErrInvalid)
	assert.Equal(t, 1, store.Calls(memstore.VerbCreate))
}

func TestInitContextCancelledDuringBackoff(t *testing.T) {
	store := memstore.New()
	store.PrependReactor(failVerb(memstore.VerbCreate, errors.New("connection refused")))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	slow := lease.RetryConfig{MaxRetries: 10, InitialBackoff: time.Minute, MaxBackoff: time.Minute, BackoffMultiplier: 1}
	_, err := lease.Init(ctx, store, leaseName, lease.WithInitRetry(slow))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpawnValidation(t *testing.T) {
	mgr, err := lease.Init(context.Background(), memstore.New(), leaseName)
	require.NoError(t, err)

	_, _, err = mgr.Spawn(context.Background(), "", taskParams())
	assert.ErrorIs(t, err, lease.ErrInvalidParams)

	bad := taskParams()
	bad.RenewGracePeriod = bad.LeaseDuration
	_, _, err = mgr.Spawn(context.Background(), "a", bad)
	assert.ErrorIs(t, err, lease.ErrInvalidParams)

	_, _, err = mgr.Spawn(context.Background(), "a", lease.ClaimParams{})
	assert.ErrorIs(t, err, lease.ErrInvalidParams)
}

func TestSpawnFillsOptionalParams(t *testing.T) {
	store := memstore.New()
	mgr := newTestManager(t, store)

	obs, task, err := mgr.Spawn(context.Background(), "a", lease.ClaimParams{
		LeaseDuration:    taskLeaseDuration,
		RenewGracePeriod: taskGrace,
	})
	require.NoError(t, err)
	defer task.Stop()

	waitCurrent(t, obs, "a", 2*time.Second)
}

func TestManagerGetNotFound(t *testing.T) {
	store := memstore.New()
	mgr := newTestManager(t, store)
	store.Delete(leaseName)

	_, err := mgr.Get(context.Background())
	assert.ErrorIs(t, err, lease.ErrNotFound)
}
