package supervisor

import (
	"context"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/types"
)

// Deactivate initiates termination of an active slave: it marks the
// record RequestedTerminate and asks the launcher to kill the pid.
// Completion happens asynchronously when the process-exit watcher calls
// HandleExitNotice.
func (e *Engine) Deactivate(ctx context.Context, s *types.Slave, reason string) (Code, error) {
	if s.State.Inactive() {
		return ALREADY, nil
	}
	s.State = types.StateRequestedTerminate
	metrics.DeactivationsTotal.WithLabelValues(reason).Inc()

	if s.PID == types.NoPID {
		e.completeTermination(ctx, s)
		return OK, nil
	}
	if err := e.launch.Terminate(ctx, s.PID); err != nil {
		logger := log.WithSlave(s.Name)
		logger.Error().Err(err).Msg("terminate signal failed")
		return FAULT, newError("deactivate", FAULT, err)
	}
	return OK, nil
}

// SetLoadedInstance updates the instance count an external instance
// tracker reports. An active slave left with no loaded instances is
// deactivated automatically.
func (e *Engine) SetLoadedInstance(ctx context.Context, s *types.Slave, n int) {
	s.LoadedInstance = n
	if n == 0 && s.State.Active() {
		_, _ = e.Deactivate(ctx, s, "no_instances")
	}
}

// HandleFault is the runtime fault-driven deactivation path: a slave
// crashes while Resumed/Paused and the crash is reported through some
// channel other than the process-exit watcher noticing the pid has gone
// away (e.g. a crash-log file appearing while the process is still
// technically alive).
func (e *Engine) HandleFault(ctx context.Context, s *types.Slave) (Code, error) {
	return e.handleFault(ctx, s, false)
}

// handleFault runs fault attribution and the critical-fault-count policy.
// alreadyExited is true when the caller (HandleExitNotice) already knows
// the process is gone, in which case no terminate signal is sent and
// completion happens immediately instead of waiting on a second exit
// notice that will never arrive.
func (e *Engine) handleFault(ctx context.Context, s *types.Slave, alreadyExited bool) (Code, error) {
	logger := log.WithSlave(s.Name)
	s.FaultCount++

	attr, ok, err := e.faults.Attribute(ctx, s)
	if err != nil {
		logger.Error().Err(err).Msg("fault attribution failed")
	}
	source := "none"
	if ok {
		source = "attributed"
	}
	metrics.FaultsTotal.WithLabelValues(source).Inc()
	logger.Warn().Str("source", source).Int("fault_count", s.FaultCount).Msg("fault observed")

	disableReactivation := false
	if !s.ActivatedAt.IsZero() && e.now().Sub(s.ActivatedAt) < e.cfg.MinimumReactivationTime {
		s.CriticalFaultCount++
		metrics.CriticalFaultsTotal.Inc()
		if s.CriticalFaultCount >= e.cfg.SlaveMaxLoad {
			disableReactivation = true
		}
	} else {
		// A crash after the minimum reactivation window means the prior
		// activation was clean; the consecutive fast-crash streak is over.
		s.CriticalFaultCount = 0
	}
	if s.LoadedInstance == 0 {
		disableReactivation = true
	}
	if disableReactivation {
		s.ReactivateSlave = false
		s.ReactivateInstances = false
		metrics.ReactivationsDisabledTotal.Inc()
		s.FireEvents(types.EventFault)
	}

	if alreadyExited {
		e.completeTermination(ctx, s)
		return OK, nil
	}

	s.State = types.StateRequestedTerminate
	if s.PID == types.NoPID {
		e.completeTermination(ctx, s)
		return OK, nil
	}
	if err := e.launch.Terminate(ctx, s.PID); err != nil {
		logger.Error().Err(err).Msg("terminate signal failed during fault handling")
		return FAULT, newError("handle_fault", FAULT, err)
	}
	return OK, nil
}

// handleActivateTimeout fires when the activate timer expires before a
// hello arrives: unlike a runtime fault, this always fires the FAULT
// observer callbacks, independent of the critical-fault-count policy.
func (e *Engine) handleActivateTimeout(ctx context.Context, s *types.Slave) {
	metrics.ActivateTimeoutsTotal.Inc()
	s.FaultCount++
	s.FireEvents(types.EventFault)

	s.State = types.StateRequestedTerminate
	pid := s.PID
	if pid == types.NoPID {
		e.completeTermination(ctx, s)
		return
	}
	if err := e.launch.Terminate(ctx, pid); err != nil {
		logger := log.WithSlave(s.Name)
		logger.Error().Err(err).Msg("terminate signal failed after activate timeout")
	}
}

// ttlExpiryCallback fires when a secured slave's TTL elapses: it cycles
// the slave to reclaim resources while preserving its instances.
func (e *Engine) ttlExpiryCallback(s *types.Slave) timer.Callback {
	return func(data any) timer.Action {
		s.TTLTimer = 0
		s.ReactivateSlave = false
		s.ReactivateInstances = true
		_, _ = e.Deactivate(context.Background(), s, "ttl_expiry")
		return timer.Cancel
	}
}

// HandleExitNotice is the path by which a slave holding a pid reaches
// Terminated (a record with no pid is terminated directly by whichever
// path deactivates it). It is called by the process-exit watcher once the
// OS confirms the pid is gone, whether or not the Engine asked for that (an unsolicited exit
// while still Resumed/Paused is treated as a fault).
func (e *Engine) HandleExitNotice(ctx context.Context, pid int) (Code, error) {
	s, err := e.reg.FindByPID(pid)
	if err != nil {
		return NOT_EXIST, newError("exit_notice", NOT_EXIST, err)
	}
	if s.State == types.StateRequestedTerminate {
		e.completeTermination(ctx, s)
		return OK, nil
	}
	return e.handleFault(ctx, s, true)
}

// completeTermination finishes a termination: cancels every timer the
// record holds, clears pid, transitions to Terminated, fires deactivate
// callbacks, and then either relaunches (a vote plus reactivate_slave) or
// drops the registry reference (no loaded instances).
func (e *Engine) completeTermination(ctx context.Context, s *types.Slave) {
	e.timers.Delete(timer.Handle(s.TTLTimer))
	s.TTLTimer = 0
	e.timers.Delete(timer.Handle(s.ActivateTimer))
	s.ActivateTimer = 0
	e.timers.Delete(timer.Handle(s.RelaunchTimer))
	s.RelaunchTimer = 0
	s.PID = types.NoPID
	s.State = types.StateTerminated

	votes := s.FireEvents(types.EventDeactivate)

	// A deactivate callback may have dropped the refcount to zero and
	// destroyed this record already. Re-fetch before touching it further.
	if _, err := e.reg.FindByName(s.Name); err != nil {
		return
	}

	if votes > 0 && s.ReactivateSlave {
		_, _ = e.Launch(ctx, s)
		return
	}
	if s.LoadedInstance == 0 {
		if err := e.reg.Unref(s); err != nil {
			logger := log.WithSlave(s.Name)
			logger.Warn().Err(err).Msg("unref after termination failed")
		}
	}
}
