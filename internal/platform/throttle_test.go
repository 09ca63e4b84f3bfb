package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleWithinBurst(t *testing.T) {
	th := NewThrottle(100, 5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background(), Twitter))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleIndependentPerPlatform(t *testing.T) {
	th := NewThrottle(1, 1)

	// Draining one platform's burst must not delay another platform.
	require.NoError(t, th.Wait(context.Background(), Twitter))

	start := time.Now()
	require.NoError(t, th.Wait(context.Background(), Linkedin))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleWaitCancelled(t *testing.T) {
	th := NewThrottle(0.001, 1)
	require.NoError(t, th.Wait(context.Background(), Facebook))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := th.Wait(ctx, Facebook)
	require.Error(t, err)
}
