package supervisor

import (
	"context"
	"time"

	"github.com/nimbusdp/slaved/pkg/types"
)

// LaunchRequest is the parameter bundle handed to the launcher
// collaborator: SLAVE_NAME, SLAVE_SECURED, SLAVE_ABI.
type LaunchRequest struct {
	Name    string
	Secured bool
	ABI     string
}

// Launcher is the external process-launcher collaborator. The Engine
// never calls Launch twice concurrently for the same slave, so Launcher
// itself does not need to deduplicate.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (pid int, status types.LaunchStatus, err error)
	Terminate(ctx context.Context, pid int) error
}

// Transport is the external wire-RPC collaborator. SendPause/SendResume
// are fire-and-forget from the Engine's perspective; the ack arrives
// later via HandlePauseAck/HandleResumeAck. BroadcastFault lets Transport
// double as the fault manager's Broadcaster.
type Transport interface {
	SendPause(ctx context.Context, rpcHandle string, at time.Time) error
	SendResume(ctx context.Context, rpcHandle string, at time.Time) error
	BroadcastFault(ctx context.Context, pkg, file, function string) error
}

// DisplayMonitor reports the system-wide pause/resume state the display
// monitor collaborator maintains; a slave activating while the display is
// paused is paused immediately.
type DisplayMonitor interface {
	Paused() bool
}
