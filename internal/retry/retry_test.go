package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoBackoffSchedule(t *testing.T) {
	var slept []time.Duration
	p := Policy{
		MaxRetries: 3,
		Backoff:    2 * time.Second,
		Sleeper: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	err := p.Do(context.Background(), "download", func(context.Context) error {
		calls++
		return errors.New("link dropped")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "attempts = retries + 1")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, slept)
	assert.Contains(t, err.Error(), "link dropped")
}

func TestDoStopsOnSuccess(t *testing.T) {
	var slept []time.Duration
	p := Policy{
		MaxRetries: 5,
		Backoff:    time.Second,
		Sleeper: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	err := p.Do(context.Background(), "download", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDoZeroRetriesSingleAttempt(t *testing.T) {
	p := Policy{MaxRetries: 0, Backoff: time.Second, Sleeper: func(context.Context, time.Duration) error {
		t.Fatal("no sleep expected with zero retries")
		return nil
	}}

	calls := 0
	err := p.Do(context.Background(), "download", func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxRetries: 2,
		Backoff:    time.Second,
		Sleeper: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	err := p.Do(ctx, "download", func(context.Context) error {
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestDelay(t *testing.T) {
	p := Policy{Backoff: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 6*time.Second, p.Delay(2))
	assert.Equal(t, 12*time.Second, p.Delay(3))
}
