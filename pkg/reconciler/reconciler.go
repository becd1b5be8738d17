// Package reconciler runs a periodic safety-net sweep over every slave
// record: any active slave whose instance count dropped to zero without
// going through Engine.SetLoadedInstance is deactivated, and the
// slave-count-by-state gauge is republished. It owns no state of its own
// and never decides policy the Engine doesn't already implement — it
// exists purely to catch drift.
//
// The ticker goroutine never touches the Engine itself. Like the log
// watcher, it only emits a request on a channel; the daemon's dispatch
// loop drains that channel and calls Sweep on its own turn, so every
// Engine mutation still happens on the single dispatch goroutine.
package reconciler

import (
	"context"
	"time"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/rs/zerolog"
)

// Reconciler periodically requests a sweep of the Engine's slave set.
type Reconciler struct {
	engine   *supervisor.Engine
	interval time.Duration
	logger   zerolog.Logger
	requests chan struct{}
}

// New creates a reconciler that requests a sweep of engine every interval.
func New(engine *supervisor.Engine, interval time.Duration) *Reconciler {
	return &Reconciler{
		engine:   engine,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		requests: make(chan struct{}, 1),
	}
}

// Requests delivers one token per elapsed interval. The buffer is one
// deep: a dispatch loop that falls behind coalesces missed intervals into
// a single sweep rather than queueing a backlog.
func (r *Reconciler) Requests() <-chan struct{} {
	return r.requests
}

// Run ticks until ctx is canceled, emitting sweep requests.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			select {
			case r.requests <- struct{}{}:
			default:
			}
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return ctx.Err()
		}
	}
}

// Serve satisfies suture.Service, delegating to Run.
func (r *Reconciler) Serve(ctx context.Context) error {
	return r.Run(ctx)
}

// Sweep deactivates any active slave with no loaded instances and
// republishes the state gauge. It must be called from the same goroutine
// that drives every other Engine mutation.
func (r *Reconciler) Sweep(ctx context.Context) {
	metrics.ReconcileSweepsTotal.Inc()

	for _, s := range r.engine.All() {
		if s.LoadedInstance == 0 && s.State.Active() {
			r.logger.Warn().Str("slave_name", s.Name).Msg("reconciler caught a slave with no loaded instances still active")
			r.engine.SetLoadedInstance(ctx, s, 0)
		}
	}
	r.engine.RefreshMetrics()
}
