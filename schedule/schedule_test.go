package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayWithinJitter(t *testing.T) {
	p := Policy{Interval: time.Second, Jitter: 500 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := p.Delay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1500*time.Millisecond)
	}
	assert.Equal(t, time.Minute, Fixed(time.Minute).Delay())
	assert.Equal(t, time.Duration(0), Immediate.Delay())
}

func TestWaitUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	done := make(chan error, 1)
	go func() { done <- Fixed(time.Minute).Wait(context.Background(), clock) }()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	select {
	case <-done:
		t.Fatal("wait returned before the clock advanced")
	default:
	}
	clock.Advance(time.Minute)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after advance")
	}
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Fixed(time.Hour).Wait(ctx, clockwork.NewFakeClock()), context.Canceled)
	assert.ErrorIs(t, Immediate.Wait(ctx, nil), context.Canceled)
	assert.NoError(t, Immediate.Wait(context.Background(), nil))
}
