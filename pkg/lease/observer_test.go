// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func current(holder string) *Claim {
	return &Claim{Holder: holder, Expiry: time.Now().Add(time.Minute)}
}

func TestClaimIsCurrent(t *testing.T) {
	var nilClaim *Claim
	assert.False(t, nilClaim.IsCurrent())
	assert.False(t, nilClaim.IsCurrentFor("a"))

	c := current("a")
	assert.True(t, c.IsCurrent())
	assert.True(t, c.IsCurrentFor("a"))
	assert.False(t, c.IsCurrentFor("b"))

	expired := &Claim{Holder: "a", Expiry: time.Now().Add(-time.Second)}
	assert.False(t, expired.IsCurrent())
	assert.False(t, expired.IsCurrentFor("a"))
}

func TestObserverJudgesExpiryWithItsClock(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(t0)
	o := newObserver(clk)
	o.publish(&Claim{Holder: "a", Expiry: t0.Add(time.Minute)})

	assert.True(t, o.Get().IsCurrentFor("a"))
	assert.Equal(t, "a", o.Holder())
	assert.False(t, (*Claim)(nil).IsCurrentAt(t0))

	clk.SetTime(t0.Add(time.Minute))
	assert.False(t, o.Get().IsCurrent())
	assert.Empty(t, o.Holder())
}

func TestObserverInitialState(t *testing.T) {
	o := newObserver(nil)
	assert.Nil(t, o.Get())
	assert.Empty(t, o.Holder())
	assert.False(t, o.Closed())
	assert.NoError(t, o.Err())

	select {
	case <-o.Changed():
		t.Fatal("changed must not be closed before the first publication")
	default:
	}
}

func TestObserverPublish(t *testing.T) {
	o := newObserver(nil)
	changed := o.Changed()

	c := current("a")
	require.True(t, o.publish(c))
	assert.True(t, c.equal(o.Get()))
	assert.Equal(t, "a", o.Holder())

	select {
	case <-changed:
	default:
		t.Fatal("publish must close the previous changed channel")
	}
	assert.NotEqual(t, changed, o.Changed())
}

func TestObserverPublishSkipsEqualClaims(t *testing.T) {
	o := newObserver(nil)
	c := current("a")
	require.True(t, o.publish(c))
	changed := o.Changed()

	assert.False(t, o.publish(&Claim{Holder: c.Holder, Expiry: c.Expiry}))
	assert.False(t, o.publish(c))
	select {
	case <-changed:
		t.Fatal("an identical claim must not wake waiters")
	default:
	}

	assert.True(t, o.publish(nil))
	assert.Nil(t, o.Get())
	assert.False(t, o.publish(nil))
}

func TestObserverHolderEmptyWhenExpired(t *testing.T) {
	o := newObserver(nil)
	o.publish(&Claim{Holder: "a", Expiry: time.Now().Add(-time.Millisecond)})
	assert.NotNil(t, o.Get())
	assert.Empty(t, o.Holder())
}

func TestObserverClose(t *testing.T) {
	o := newObserver(nil)
	c := current("a")
	o.publish(c)
	changed := o.Changed()

	boom := errors.New("boom")
	o.close(boom)
	assert.True(t, o.Closed())
	assert.Equal(t, boom, o.Err())
	assert.True(t, c.equal(o.Get()), "the last claim is kept")
	select {
	case <-changed:
	default:
		t.Fatal("close must wake waiters")
	}

	assert.False(t, o.publish(current("b")), "publications after close are ignored")
	assert.True(t, c.equal(o.Get()))

	// Closing twice keeps the first error.
	o.close(nil)
	assert.Equal(t, boom, o.Err())
}

func TestObserverWaitForSatisfiedImmediately(t *testing.T) {
	o := newObserver(nil)
	o.publish(current("a"))

	c, err := o.WaitFor(context.Background(), func(c *Claim) bool { return c.IsCurrentFor("a") })
	require.NoError(t, err)
	assert.Equal(t, "a", c.Holder)
}

func TestObserverWaitForNilPredicate(t *testing.T) {
	o := newObserver(nil)
	c, err := o.WaitFor(context.Background(), func(c *Claim) bool { return c == nil })
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestObserverWaitForWakesOnPublish(t *testing.T) {
	o := newObserver(nil)
	result := make(chan *Claim, 1)
	go func() {
		c, err := o.WaitFor(context.Background(), func(c *Claim) bool { return c.IsCurrentFor("b") })
		if err == nil {
			result <- c
		}
		close(result)
	}()

	o.publish(current("a"))
	o.publish(current("b"))

	select {
	case c := <-result:
		require.NotNil(t, c)
		assert.Equal(t, "b", c.Holder)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not return after the predicate became true")
	}
}

func TestObserverWaitForClosed(t *testing.T) {
	o := newObserver(nil)
	done := make(chan error, 1)
	go func() {
		_, err := o.WaitFor(context.Background(), func(c *Claim) bool { return c.IsCurrentFor("a") })
		done <- err
	}()

	o.close(nil)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrObserverClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not return after close")
	}
}

func TestObserverWaitForContextCancelled(t *testing.T) {
	o := newObserver(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.WaitFor(ctx, func(c *Claim) bool { return c.IsCurrentFor("a") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrObserverClosed)
}

func TestObserverConcurrentReaders(t *testing.T) {
	o := newObserver(nil)
	const readers = 8
	var wg sync.WaitGroup
	wg.Add(readers)
	for range readers {
		go func() {
			defer wg.Done()
			_, err := o.WaitFor(context.Background(), func(c *Claim) bool { return c != nil && c.Holder == "last" })
			assert.NoError(t, err)
		}()
	}

	for _, h := range []string{"a", "b", "c", "last"} {
		o.publish(current(h))
	}
	wg.Wait()
}
