package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/nimbusdp/slaved/pkg/types"
)

// ProcessLauncher launches the configured slave binary with
// --slave-name/--slave-secured/--slave-abi flags mirroring the
// SLAVE_NAME/SLAVE_SECURED/SLAVE_ABI bundle keys.
type ProcessLauncher struct {
	binary string
	args   []string

	mu      sync.Mutex
	running map[int]*os.Process
	exits   chan int
}

// New creates a launcher that execs binary for every slave, with any
// extra static args prepended before the per-slave flags.
func New(binary string, extraArgs ...string) *ProcessLauncher {
	return &ProcessLauncher{
		binary:  binary,
		args:    extraArgs,
		running: make(map[int]*os.Process),
		exits:   make(chan int, 64),
	}
}

// Exits delivers the pid of every launched process after the OS reaps it.
// The daemon's dispatch loop drains this channel and turns each pid into
// an exit notice for the supervisor; the launcher itself never calls into
// supervisor state.
func (l *ProcessLauncher) Exits() <-chan int {
	return l.exits
}

// Launch execs the configured binary and returns its pid immediately
// without waiting for it to exit; a background goroutine reaps it, drops
// it from the running set, and reports the pid on Exits. The supervisor
// itself learns about the exit through HandleExitNotice, fed by the
// daemon's dispatch loop (see pkg/daemon).
func (l *ProcessLauncher) Launch(ctx context.Context, req supervisor.LaunchRequest) (int, types.LaunchStatus, error) {
	name, secured, abi := req.Name, req.Secured, req.ABI

	args := append(append([]string{}, l.args...),
		"--slave-name", name,
		"--slave-secured", strconv.FormatBool(secured),
		"--slave-abi", abi,
	)
	cmd := exec.CommandContext(ctx, l.binary, args...)
	cmd.Env = append(os.Environ(),
		"SLAVE_NAME="+name,
		"SLAVE_SECURED="+strconv.FormatBool(secured),
		"SLAVE_ABI="+abi,
	)

	logger := log.WithComponent("launcher")
	if err := cmd.Start(); err != nil {
		status := classifyStartError(err)
		logger.Warn().Err(err).Str("slave_name", name).Str("outcome", status.String()).Msg("launch failed to start")
		return 0, status, err
	}

	pid := cmd.Process.Pid
	l.mu.Lock()
	l.running[pid] = cmd.Process
	l.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		l.mu.Lock()
		delete(l.running, pid)
		l.mu.Unlock()
		l.exits <- pid
	}()

	logger.Info().Str("slave_name", name).Int("pid", pid).Msg("slave process launched")
	return pid, types.LaunchOK, nil
}

// Terminate sends SIGTERM to pid. A pid this launcher never started (or
// has already reaped) is reported as ErrProcessNotTracked rather than
// treated as success, so callers can distinguish "already gone" from "we
// never knew about it."
var ErrProcessNotTracked = errors.New("launcher: pid not tracked")

func (l *ProcessLauncher) Terminate(ctx context.Context, pid int) error {
	l.mu.Lock()
	proc, ok := l.running[pid]
	l.mu.Unlock()
	if !ok {
		return ErrProcessNotTracked
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("launcher: terminate pid %d: %w", pid, err)
	}
	return nil
}

// classifyStartError maps an os/exec start failure onto the launcher
// status taxonomy. The mapping is
// necessarily approximate: os/exec surfaces "file not found" and
// "permission denied" precisely, everything else collapses to a generic
// retryable/fatal bucket by errno family.
func classifyStartError(err error) types.LaunchStatus {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		if errors.Is(execErr.Err, exec.ErrNotFound) {
			return types.LaunchFatalNoLaunchpad
		}
	}
	if errors.Is(err, os.ErrPermission) {
		return types.LaunchFatalIllAccess
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return types.LaunchFatalNoLaunchpad
		case errors.Is(pathErr.Err, syscall.EACCES):
			return types.LaunchFatalIllAccess
		case errors.Is(pathErr.Err, syscall.EAGAIN), errors.Is(pathErr.Err, syscall.EMFILE):
			return types.LaunchRetryableComm
		}
	}
	return types.LaunchFatalGenericError
}
