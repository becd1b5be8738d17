package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdp/slaved/pkg/types"
)

type countingLauncher struct {
	status types.LaunchStatus
	err    error
	calls  int
}

func (c *countingLauncher) Launch(ctx context.Context, req LaunchRequest) (int, types.LaunchStatus, error) {
	c.calls++
	if c.err != nil {
		return types.NoPID, c.status, c.err
	}
	return 42, c.status, nil
}

func (c *countingLauncher) Terminate(ctx context.Context, pid int) error { return nil }

func TestBreakerLauncherPassesThroughSuccess(t *testing.T) {
	inner := &countingLauncher{status: types.LaunchOK}
	b := newBreakerLauncher(inner)

	pid, status, err := b.Launch(context.Background(), LaunchRequest{Name: "s1", ABI: "c"})
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
	assert.Equal(t, types.LaunchOK, status)
	assert.Equal(t, 1, inner.calls)
}

func TestBreakerLauncherTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &countingLauncher{status: types.LaunchFatalGenericError}
	b := newBreakerLauncher(inner)
	req := LaunchRequest{Name: "s1", ABI: "c"}

	for i := 0; i < 5; i++ {
		_, _, _ = b.Launch(context.Background(), req)
	}

	callsBeforeTrip := inner.calls
	_, status, err := b.Launch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.LaunchRetryableComm, status)
	// the breaker should now be open and short-circuit without calling inner.
	assert.Equal(t, callsBeforeTrip, inner.calls)
}

func TestBreakerLauncherIsolatesTargetsIndependently(t *testing.T) {
	inner := &countingLauncher{status: types.LaunchFatalGenericError}
	b := newBreakerLauncher(inner)

	for i := 0; i < 5; i++ {
		_, _, _ = b.Launch(context.Background(), LaunchRequest{Name: "s1", ABI: "c"})
	}
	// a distinct (abi, name) target must still be allowed through.
	inner.status = types.LaunchOK
	_, status, err := b.Launch(context.Background(), LaunchRequest{Name: "s2", ABI: "c"})
	require.NoError(t, err)
	assert.Equal(t, types.LaunchOK, status)
}
