package supervisor

import (
	"context"
	"time"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/types"
)

// Launch is idempotent: a slave already holding a pid, or already
// mid-launch, is reported as ALREADY rather than re-launched.
func (e *Engine) Launch(ctx context.Context, s *types.Slave) (Code, error) {
	if s.PID != types.NoPID {
		return ALREADY, nil
	}
	if s.State == types.StateRequestedLaunch {
		// A second launch request for a slave already in flight is folded
		// into a request to keep it alive once it comes up.
		s.ReactivateSlave = true
		return ALREADY, nil
	}

	s.State = types.StateRequestedLaunch
	s.RelaunchCount = e.cfg.SlaveRelaunchCount
	s.SetData("launch_requested_at", e.now())
	e.attemptLaunch(ctx, s)
	return OK, nil
}

func (e *Engine) attemptLaunch(ctx context.Context, s *types.Slave) {
	logger := log.WithSlave(s.Name)

	pid, status, err := e.launch.Launch(ctx, LaunchRequest{Name: s.Name, Secured: s.Secured, ABI: s.ABI})
	metrics.LaunchesTotal.WithLabelValues(status.String()).Inc()
	if err != nil {
		logger.Error().Err(err).Msg("launcher returned an error")
		e.handleFault(ctx, s, false)
		return
	}

	switch {
	case status == types.LaunchOK || status == types.LaunchLocalLaunch:
		s.PID = pid
		if !e.cfg.DebugMode {
			// Debug mode disables the activate timer entirely, so a
			// missing "hello" parks the slave in RequestedLaunch
			// instead of timing out.
			s.ActivateTimer = types.TimerHandle(e.timers.Add(e.cfg.SlaveActivateTime, e.activateTimeoutCallback(s), nil))
		}

	case status.Retryable():
		s.RelaunchCount--
		if s.RelaunchCount > 0 {
			metrics.RelaunchesTotal.Inc()
			s.RelaunchTimer = types.TimerHandle(e.timers.Add(e.cfg.SlaveRelaunchTime, e.relaunchCallback(s), nil))
			return
		}
		logger.Warn().Msg("relaunch attempts exhausted, invoking fault handler")
		s.PID = pid
		e.handleFault(ctx, s, false)

	default: // fatal family, or an unrecognized status
		s.PID = pid
		e.handleFault(ctx, s, false)
	}
}

func (e *Engine) activateTimeoutCallback(s *types.Slave) timer.Callback {
	return func(data any) timer.Action {
		s.ActivateTimer = 0
		e.handleActivateTimeout(context.Background(), s)
		return timer.Cancel
	}
}

func (e *Engine) relaunchCallback(s *types.Slave) timer.Callback {
	return func(data any) timer.Action {
		s.RelaunchTimer = 0
		e.attemptLaunch(context.Background(), s)
		return timer.Cancel
	}
}

// HandleHello completes the activation handshake for the slave holding
// pid.
func (e *Engine) HandleHello(ctx context.Context, pid int, rpcHandle string) (Code, error) {
	s, err := e.reg.FindByPID(pid)
	if err != nil {
		return NOT_EXIST, newError("hello", NOT_EXIST, err)
	}
	if s.State != types.StateRequestedLaunch {
		return INVALID, newError("hello", INVALID, nil)
	}

	e.timers.Delete(timer.Handle(s.ActivateTimer))
	s.ActivateTimer = 0
	e.timers.Delete(timer.Handle(s.RelaunchTimer))
	s.RelaunchTimer = 0

	s.RPCHandle = rpcHandle
	s.State = types.StateResumed
	s.ActivatedAt = e.now()
	if v, ok := s.Data("launch_requested_at"); ok {
		if requestedAt, ok := v.(time.Time); ok {
			metrics.LaunchDuration.Observe(e.now().Sub(requestedAt).Seconds())
		}
	}

	if s.Secured {
		s.TTLTimer = types.TimerHandle(e.timers.Add(e.cfg.SlaveTTL, e.ttlExpiryCallback(s), nil))
	}

	s.FireEvents(types.EventActivate)

	if e.display != nil && e.display.Paused() {
		_, _ = e.RequestPause(ctx, s)
	}
	return OK, nil
}
