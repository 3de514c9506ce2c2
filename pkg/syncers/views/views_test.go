package views_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/alris/cms-backend/pkg/syncers/views"
)

type countingEvicter struct {
	calls atomic.Int32
}

func (e *countingEvicter) Evict() int {
	return int(e.calls.Add(1))
}

func TestSyncer_Run(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ev := &countingEvicter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		views.New(ev, clk, zerolog.Nop()).Run(ctx, 30*time.Second)
		close(done)
	}()

	assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), ev.calls.Load())

	clk.Step(30 * time.Second)
	assert.Eventually(t, func() bool { return ev.calls.Load() == 1 }, time.Second, time.Millisecond)

	clk.Step(30 * time.Second)
	assert.Eventually(t, func() bool { return ev.calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
