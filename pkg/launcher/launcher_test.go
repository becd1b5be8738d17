package launcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/nimbusdp/slaved/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSleeper(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("reference launcher assumes a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "slave.sh")
	script := "#!/bin/sh\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestLaunchStartsProcessAndReturnsOK(t *testing.T) {
	bin := writeSleeper(t)
	l := New(bin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pid, status, err := l.Launch(ctx, supervisor.LaunchRequest{Name: "S1", Secured: true, ABI: "c"})
	require.NoError(t, err)
	assert.Equal(t, types.LaunchOK, status)
	assert.NotZero(t, pid)

	require.NoError(t, l.Terminate(context.Background(), pid))
}

func TestLaunchMissingBinaryIsFatalNoLaunchpad(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "does-not-exist"))

	_, status, err := l.Launch(context.Background(), supervisor.LaunchRequest{Name: "S1", ABI: "c"})
	require.Error(t, err)
	assert.Equal(t, types.LaunchFatalNoLaunchpad, status)
}

func TestTerminateUntrackedPIDIsReported(t *testing.T) {
	l := New("/bin/true")
	err := l.Terminate(context.Background(), 999999)
	assert.ErrorIs(t, err, ErrProcessNotTracked)
}

func TestExitsReportsReapedPID(t *testing.T) {
	bin := writeSleeper(t)
	l := New(bin)

	pid, _, err := l.Launch(context.Background(), supervisor.LaunchRequest{Name: "S1", ABI: "c"})
	require.NoError(t, err)
	require.NoError(t, l.Terminate(context.Background(), pid))

	select {
	case got := <-l.Exits():
		assert.Equal(t, pid, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit notice")
	}
}
