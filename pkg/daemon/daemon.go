package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/logwatch"
	"github.com/nimbusdp/slaved/pkg/reconciler"
	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/nimbusdp/slaved/pkg/transport"
)

// Supervisor is the root of the process's suture tree.
type Supervisor struct {
	root *suture.Supervisor
}

// New assembles a Supervisor running engine's dispatch loop, watcher's
// crash-log events, the reconciliation sweep, and an HTTP server hosting
// wsTransport. exits carries the pid of every reaped slave process (see
// launcher.ProcessLauncher.Exits); it may be nil when no exit watcher is
// available, in which case no exit notice is ever delivered and a slave
// holding a pid stays in RequestedTerminate after being told to stop.
func New(engine *supervisor.Engine, watcher *logwatch.FSWatcher, wsTransport *transport.WSTransport, exits <-chan int, addr string, sweepInterval time.Duration) *Supervisor {
	root := suture.New("slaved", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger := log.WithComponent("daemon")
			logger.Warn().Str("event", ev.String()).Msg("supervision tree event")
		},
	})

	rec := reconciler.New(engine, sweepInterval)
	root.Add(&dispatchLoop{engine: engine, watcher: watcher, transport: wsTransport, rec: rec, exits: exits})
	root.Add(&httpService{addr: addr, handler: wsTransport})
	root.Add(rec)

	return &Supervisor{root: root}
}

// Serve runs the tree until ctx is canceled.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

// dispatchLoop is the single goroutine that ever mutates Engine state: it
// drains timer fires, transport hellos/acks, crash-log events, and
// reconciler sweep requests, one at a time, so no other goroutine ever
// mutates a slave record.
type dispatchLoop struct {
	engine    *supervisor.Engine
	watcher   *logwatch.FSWatcher
	transport *transport.WSTransport
	rec       *reconciler.Reconciler
	exits     <-chan int
}

func (d *dispatchLoop) Serve(ctx context.Context) error {
	logger := log.WithComponent("dispatch")
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			d.engine.Tick(now)

		case hello := <-d.transport.Hellos():
			if _, err := d.engine.HandleHello(ctx, hello.PID, hello.RPCHandle); err != nil {
				logger.Warn().Err(err).Int("pid", hello.PID).Msg("hello handling failed")
			}

		case ack := <-d.transport.Acks():
			s, err := d.engine.FindByRPCHandle(ack.RPCHandle)
			if err != nil {
				logger.Warn().Str("rpc_handle", ack.RPCHandle).Msg("ack from unknown connection")
				continue
			}
			switch ack.Kind {
			case transport.AckPause:
				_, _ = d.engine.HandlePauseAck(ctx, s, ack.Status)
			case transport.AckResume:
				_, _ = d.engine.HandleResumeAck(ctx, s, ack.Status)
			}

		case <-d.rec.Requests():
			d.rec.Sweep(ctx)

		case pid := <-d.exits:
			if _, err := d.engine.HandleExitNotice(ctx, pid); err != nil {
				logger.Debug().Err(err).Int("pid", pid).Msg("exit notice for a pid no record holds")
			}

		case ev := <-d.watcher.Events():
			s, err := d.engine.FindByPID(ev.PID)
			if err != nil {
				continue // crash log for a pid we no longer track
			}
			if _, err := d.engine.HandleFault(ctx, s); err != nil {
				logger.Warn().Err(err).Int("pid", ev.PID).Msg("fault handling from log watcher failed")
			}
		}
	}
}

// httpService hosts the WebSocket transport's accept endpoint as a
// suture-supervised HTTP server.
type httpService struct {
	addr    string
	handler http.Handler
}

func (h *httpService) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/slave", h.handler)

	srv := &http.Server{Addr: h.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
