package registry

import (
	"testing"

	"github.com/nimbusdp/slaved/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(Config{MaxLoad: 3, DefaultABI: "c"})
}

func TestFindOrCreateIsIdempotentOnName(t *testing.T) {
	r := newTestRegistry()

	s1, err := r.FindOrCreate("S1", "liblive-a", "c", true, false)
	require.NoError(t, err)

	s2, err := r.FindOrCreate("S1", "liblive-a", "c", true, false)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, r.Len())
}

func TestFindOrCreateRejectsSecuredMismatch(t *testing.T) {
	r := newTestRegistry()
	_, err := r.FindOrCreate("S1", "liblive-a", "c", true, false)
	require.NoError(t, err)

	_, err = r.FindOrCreate("S1", "liblive-a", "c", false, false)
	assert.Error(t, err)
}

func TestFindAvailableExcludesDyingSlaves(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", false, false)
	require.NoError(t, err)
	s.State = types.StateRequestedTerminate
	s.LoadedInstance = 0

	_, err = r.FindAvailable("c", false, false)
	assert.ErrorIs(t, err, ErrNotFound)

	// with an instance still loaded it remains reusable even while dying
	s.LoadedInstance = 1
	got, err := r.FindAvailable("c", false, false)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestFindAvailableABIIsCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "C", false, false)
	require.NoError(t, err)
	s.State = types.StateResumed

	got, err := r.FindAvailable("c", false, false)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestFindAvailableSecuredRequiresZeroLoadedPackage(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", true, false)
	require.NoError(t, err)
	s.State = types.StateResumed
	s.LoadedPackage = 1

	_, err = r.FindAvailable("c", true, false)
	assert.ErrorIs(t, err, ErrNotFound)

	s.LoadedPackage = 0
	got, err := r.FindAvailable("c", true, false)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestFindAvailableDefaultABIRespectsMaxLoad(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", false, false)
	require.NoError(t, err)
	s.State = types.StateResumed
	s.LoadedPackage = 3 // == MaxLoad

	_, err = r.FindAvailable("c", false, false)
	assert.ErrorIs(t, err, ErrNotFound)

	// a non-default ABI is not subject to MaxLoad
	s2, err := r.FindOrCreate("S2", "liblive-b", "python", false, false)
	require.NoError(t, err)
	s2.State = types.StateResumed
	s2.LoadedPackage = 99

	got, err := r.FindAvailable("python", false, false)
	require.NoError(t, err)
	assert.Same(t, s2, got)
}

func TestUnrefDestroysAtZeroWithNoPID(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", false, false)
	require.NoError(t, err)

	deleted := false
	s.AddEventCallback(types.EventDelete, func(slave *types.Slave, data any) int {
		deleted = true
		return 0
	}, nil)

	require.NoError(t, r.Unref(s))
	assert.True(t, deleted)
	assert.Equal(t, 0, r.Len())
	_, err = r.FindByName("S1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnrefRefusesToDestroyWithLivePID(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", false, false)
	require.NoError(t, err)
	s.PID = 4242

	err = r.Unref(s)
	assert.ErrorIs(t, err, ErrPIDStillSet)
	// still present: the refcount dropped but the record was not removed
	_, lookupErr := r.FindByName("S1")
	assert.NoError(t, lookupErr)
}

func TestFindByPIDAndRPCHandle(t *testing.T) {
	r := newTestRegistry()
	s, err := r.FindOrCreate("S1", "liblive-a", "c", false, false)
	require.NoError(t, err)
	s.PID = 100
	s.RPCHandle = "rpc-abc"

	got, err := r.FindByPID(100)
	require.NoError(t, err)
	assert.Same(t, s, got)

	got, err = r.FindByRPCHandle("rpc-abc")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.FindByPID(999)
	assert.ErrorIs(t, err, ErrNotFound)
}
