package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/types"
)

// breakerLauncher wraps a Launcher with a circuit breaker per distinct
// (abi, name) launch target. A target that trips its breaker stops
// accepting launch attempts for a cool-down window independent of any
// individual slave's relaunch timer; the breaker never touches slave state
// and is invisible to the state machine's invariants.
type breakerLauncher struct {
	next Launcher

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func newBreakerLauncher(next Launcher) *breakerLauncher {
	return &breakerLauncher{
		next:     next,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func targetKey(req LaunchRequest) string {
	return fmt.Sprintf("%s/%s", req.ABI, req.Name)
}

func (b *breakerLauncher) breakerFor(key string) *gobreaker.CircuitBreaker[struct{}] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[key]; ok {
		return cb
	}

	target := key
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "launch:" + key,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger := log.WithComponent("launcher-breaker")
			logger.Warn().
				Str("target", target).Str("from", from.String()).Str("to", to.String()).
				Msg("launch target breaker state change")
			metrics.LauncherBreakerState.WithLabelValues(target).Set(breakerStateValue(to))
		},
	})
	b.breakers[key] = cb
	return cb
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Launch runs req through the breaker for its (abi, name) target. Any
// outcome other than a successful launch counts against the breaker; a
// tripped breaker short-circuits with gobreaker.ErrOpenState, surfaced as
// a retryable launch failure.
func (b *breakerLauncher) Launch(ctx context.Context, req LaunchRequest) (int, types.LaunchStatus, error) {
	cb := b.breakerFor(targetKey(req))
	var (
		pid      int
		status   types.LaunchStatus
		innerErr error
	)
	_, err := cb.Execute(func() (struct{}, error) {
		pid, status, innerErr = b.next.Launch(ctx, req)
		if innerErr != nil || (status != types.LaunchOK && status != types.LaunchLocalLaunch) {
			return struct{}{}, errLaunchFailed
		}
		return struct{}{}, nil
	})
	if err != nil && err != errLaunchFailed {
		// Breaker-open or similar: surface without inventing a pid.
		return types.NoPID, types.LaunchRetryableComm, err
	}
	return pid, status, innerErr
}

func (b *breakerLauncher) Terminate(ctx context.Context, pid int) error {
	return b.next.Terminate(ctx, pid)
}

var errLaunchFailed = fmt.Errorf("supervisor: launch attempt failed")
