package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClock(t *testing.T) {
	clk := System()

	before := time.Now()
	now := clk.Now()
	assert.False(t, now.Before(before))

	require.NoError(t, clk.Sleep(context.Background(), time.Millisecond))
}

func TestSystemClock_SleepCancelled(t *testing.T) {
	clk := System()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clk.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFake_AdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	ch := fake.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("waiter fired before the clock advanced")
	default:
	}

	fake.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired too early")
	default:
	}

	fake.Advance(30 * time.Second)
	select {
	case fired := <-ch:
		assert.True(t, fired.Equal(start.Add(time.Minute)))
	case <-time.After(time.Second):
		t.Fatal("waiter never fired")
	}
}

func TestFake_NonPositiveAfterFiresImmediately(t *testing.T) {
	fake := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestFake_Set(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	target := start.Add(time.Hour)
	fake.Set(target)
	assert.True(t, fake.Now().Equal(target))

	// Setting backwards is ignored.
	fake.Set(start)
	assert.True(t, fake.Now().Equal(target))
}

func TestFake_SleepUnblocksOnAdvance(t *testing.T) {
	fake := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	done := make(chan error, 1)
	go func() {
		done <- fake.Sleep(context.Background(), time.Minute)
	}()

	select {
	case <-done:
		t.Fatal("sleep returned before advance")
	case <-time.After(20 * time.Millisecond):
	}

	fake.Advance(time.Minute)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep never returned")
	}
}
