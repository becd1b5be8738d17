package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nimbusdp/slaved/pkg/config"
	"github.com/nimbusdp/slaved/pkg/fault"
	"github.com/nimbusdp/slaved/pkg/logwatch"
	"github.com/nimbusdp/slaved/pkg/registry"
	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/transport"
	"github.com/nimbusdp/slaved/pkg/types"
	"github.com/stretchr/testify/require"
)

type nopLauncher struct{}

func (nopLauncher) Launch(ctx context.Context, req supervisor.LaunchRequest) (int, types.LaunchStatus, error) {
	return 1, types.LaunchOK, nil
}
func (nopLauncher) Terminate(ctx context.Context, pid int) error { return nil }

// TestSupervisorStopsCleanlyOnCancel exercises the tree assembly and
// confirms all three services shut down when the context is canceled,
// rather than asserting on any lifecycle event (those are covered by
// pkg/supervisor's own tests against fakes).
func TestSupervisorStopsCleanlyOnCancel(t *testing.T) {
	dir := t.TempDir()

	reg := registry.New(registry.Config{MaxLoad: 8, DefaultABI: "c"})
	timers := timer.New(nil)
	faults := fault.New(logwatch.NewFileLogReader(dir), nil, nil, nil)
	wire := transport.New()
	cfg := config.Tunables{
		SlaveTTL: time.Second, SlaveActivateTime: time.Second,
		SlaveRelaunchTime: time.Second, SlaveRelaunchCount: 1,
		SlaveMaxLoad: 1, MinimumReactivationTime: time.Second,
		DefaultABI: "c", SlaveLogPath: dir,
	}
	engine := supervisor.New(reg, timers, faults, nopLauncher{}, wire, nil, cfg)

	watcher, err := logwatch.New(dir)
	require.NoError(t, err)
	defer watcher.Close()

	// write a crash log for a pid nothing tracks; the dispatch loop must
	// tolerate the lookup miss rather than panicking.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slave.1"), []byte("liblive-x.so\n"), 0o644))

	sup := New(engine, watcher, wire, nil, "127.0.0.1:0", 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = sup.Serve(ctx)
	require.Error(t, err) // ctx.Err() propagated through suture on shutdown
}
