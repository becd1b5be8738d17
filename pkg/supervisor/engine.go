package supervisor

import (
	"time"

	"github.com/nimbusdp/slaved/pkg/config"
	"github.com/nimbusdp/slaved/pkg/fault"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/registry"
	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/types"
)

// Engine owns the registry, timer service, and fault manager, and is the
// only component that mutates a slave record's State field. Every public
// method here is understood to run on the single dispatch loop; the
// Engine itself performs no locking.
type Engine struct {
	reg     *registry.Registry
	timers  *timer.Service
	faults  *fault.Manager
	launch  Launcher
	wire    Transport
	display DisplayMonitor
	cfg     config.Tunables
	now     func() time.Time

	quiesceDepth  int
	quiescedNames []string
}

// New wires an Engine from its collaborators. display may be nil if no
// system-wide pause/resume notifications are available.
func New(reg *registry.Registry, timers *timer.Service, faults *fault.Manager, launcher Launcher, wire Transport, display DisplayMonitor, cfg config.Tunables) *Engine {
	return &Engine{
		reg:     reg,
		timers:  timers,
		faults:  faults,
		launch:  newBreakerLauncher(launcher),
		wire:    wire,
		display: display,
		cfg:     cfg,
		now:     time.Now,
	}
}

// FindOrCreate delegates to the registry; it is exposed here so callers
// drive every slave lifecycle operation through one entry point.
func (e *Engine) FindOrCreate(name, pkg, abi string, secured, network bool) (*types.Slave, error) {
	return e.reg.FindOrCreate(name, pkg, abi, secured, network)
}

// FindAvailable delegates to the registry's reuse-selection algorithm.
func (e *Engine) FindAvailable(abi string, secured, network bool) (*types.Slave, error) {
	return e.reg.FindAvailable(abi, secured, network)
}

// Ref and Unref delegate to the registry's reference counting.
func (e *Engine) Ref(s *types.Slave)         { e.reg.Ref(s) }
func (e *Engine) Unref(s *types.Slave) error { return e.reg.Unref(s) }

// All delegates to the registry's full enumeration, for periodic
// reconciliation sweeps.
func (e *Engine) All() []*types.Slave { return e.reg.All() }

// FindByPID and FindByRPCHandle delegate to the registry, exposed here so
// a daemon dispatch loop translating inbound transport/log-watcher events
// into Engine calls never needs to reach into the registry directly.
func (e *Engine) FindByPID(pid int) (*types.Slave, error) { return e.reg.FindByPID(pid) }

func (e *Engine) FindByRPCHandle(handle string) (*types.Slave, error) {
	return e.reg.FindByRPCHandle(handle)
}

// Tick and NextDeadline delegate to the timer service, letting a dispatch
// loop block efficiently between fires instead of polling.
func (e *Engine) Tick(now time.Time)              { e.timers.Tick(now) }
func (e *Engine) NextDeadline() (time.Time, bool) { return e.timers.NextDeadline() }

// RefreshMetrics publishes the current slave-count-by-state gauge. Callers
// (typically the reconciler) invoke this periodically.
func (e *Engine) RefreshMetrics() {
	counts := e.reg.CountByState()
	for _, state := range []types.SlaveState{
		types.StateTerminated, types.StateRequestedLaunch, types.StateResumed,
		types.StatePaused, types.StateRequestedPause, types.StateRequestedResume,
		types.StateRequestedTerminate, types.StateError,
	} {
		metrics.SlavesTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

