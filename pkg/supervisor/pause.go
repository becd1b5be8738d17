package supervisor

import (
	"context"

	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/types"
)

// RequestPause sends a pause RPC and transitions the slave to
// RequestedPause. A slave already Paused is a no-op returning OK with no
// side effects.
func (e *Engine) RequestPause(ctx context.Context, s *types.Slave) (Code, error) {
	if s.State == types.StatePaused {
		return OK, nil
	}
	if s.State == types.StateRequestedPause {
		return ALREADY, nil
	}
	if s.State != types.StateResumed {
		return INVALID, newError("request_pause", INVALID, nil)
	}
	s.State = types.StateRequestedPause
	if err := e.wire.SendPause(ctx, s.RPCHandle, e.now()); err != nil {
		return FAULT, newError("request_pause", FAULT, err)
	}
	return OK, nil
}

// HandlePauseAck completes the pause transition when status is 0. A
// terminating slave silently discards late acks.
func (e *Engine) HandlePauseAck(ctx context.Context, s *types.Slave, status int) (Code, error) {
	if s.State.Inactive() {
		return OK, nil
	}
	if s.State != types.StateRequestedPause {
		return INVALID, newError("pause_ack", INVALID, nil)
	}
	if status != 0 {
		return FAULT, newError("pause_ack", FAULT, nil)
	}
	s.State = types.StatePaused
	if s.TTLTimer != 0 {
		e.timers.Freeze(timer.Handle(s.TTLTimer))
	}
	s.FireEvents(types.EventPause)
	return OK, nil
}

// RequestResume is the symmetric counterpart of RequestPause. A slave
// already Resumed is a no-op returning OK with no side effects.
func (e *Engine) RequestResume(ctx context.Context, s *types.Slave) (Code, error) {
	if s.State == types.StateResumed {
		return OK, nil
	}
	if s.State == types.StateRequestedResume {
		return ALREADY, nil
	}
	if s.State != types.StatePaused {
		return INVALID, newError("request_resume", INVALID, nil)
	}
	s.State = types.StateRequestedResume
	if err := e.wire.SendResume(ctx, s.RPCHandle, e.now()); err != nil {
		return FAULT, newError("request_resume", FAULT, err)
	}
	return OK, nil
}

// HandleResumeAck completes the resume transition when status is 0.
func (e *Engine) HandleResumeAck(ctx context.Context, s *types.Slave, status int) (Code, error) {
	if s.State.Inactive() {
		return OK, nil
	}
	if s.State != types.StateRequestedResume {
		return INVALID, newError("resume_ack", INVALID, nil)
	}
	if status != 0 {
		return FAULT, newError("resume_ack", FAULT, nil)
	}
	s.State = types.StateResumed
	if s.TTLTimer != 0 {
		e.timers.Thaw(timer.Handle(s.TTLTimer))
	}
	s.FireEvents(types.EventResume)
	return OK, nil
}
