package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nimbusdp/slaved/pkg/types"
)

// ErrPIDStillSet is returned when something attempts to destroy a record
// that still has a live pid; this is a programming error and the record is
// left intact.
var ErrPIDStillSet = errors.New("registry: cannot destroy record with a live pid")

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("registry: not found")

// MaxLoad and DefaultABI are read from the tunables at construction time;
// they govern the last clause of find_available's selection algorithm.
type Config struct {
	MaxLoad    int
	DefaultABI string
}

// Registry owns every live slave record, indexed several ways. It is not
// safe for concurrent use from more than one goroutine: like every other
// piece of core state, it is mutated only from the supervisor's single
// dispatch loop.
type Registry struct {
	cfg Config

	// order preserves insertion order, since find_available must walk
	// slaves in the order they were created.
	order  []string
	byName map[string]*types.Slave
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:    cfg,
		byName: make(map[string]*types.Slave),
	}
}

// FindByName looks up a slave by its unique name.
func (r *Registry) FindByName(name string) (*types.Slave, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// FindByPID looks up the (at most one) slave currently holding pid.
func (r *Registry) FindByPID(pid int) (*types.Slave, error) {
	if pid == types.NoPID {
		return nil, ErrNotFound
	}
	for _, name := range r.order {
		s := r.byName[name]
		if s.PID == pid {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// FindByRPCHandle looks up the slave owning an RPC handle.
func (r *Registry) FindByRPCHandle(handle string) (*types.Slave, error) {
	if handle == "" {
		return nil, ErrNotFound
	}
	for _, name := range r.order {
		s := r.byName[name]
		if s.RPCHandle == handle {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// FindByPackage returns every slave whose Package field is pkg, in
// insertion order (LoadedPackage tracking is the caller's responsibility;
// the scratchpad is not consulted).
func (r *Registry) FindByPackage(pkg string) []*types.Slave {
	var out []*types.Slave
	for _, name := range r.order {
		s := r.byName[name]
		if s.Package == pkg {
			out = append(out, s)
		}
	}
	return out
}

// All enumerates every registered slave in insertion order.
func (r *Registry) All() []*types.Slave {
	out := make([]*types.Slave, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// FindOrCreate returns the existing record named name, sanity-checking that
// its Secured flag matches, or creates and registers a new one.
func (r *Registry) FindOrCreate(name, pkg, abi string, secured, network bool) (*types.Slave, error) {
	if s, ok := r.byName[name]; ok {
		if s.Secured != secured {
			return nil, fmt.Errorf("registry: slave %q exists with secured=%v, requested secured=%v", name, s.Secured, secured)
		}
		return s, nil
	}
	s := types.NewSlave(name, pkg, abi, secured, network)
	r.byName[name] = s
	r.order = append(r.order, name)
	return s, nil
}

// FindAvailable chooses the first slave in insertion order satisfying
// every reuse clause, or ErrNotFound if none fits (the caller then
// constructs one via FindOrCreate).
func (r *Registry) FindAvailable(abi string, secured, network bool) (*types.Slave, error) {
	for _, name := range r.order {
		s := r.byName[name]

		if s.Secured != secured {
			continue
		}
		// scheduled for death and unreusable
		if s.State == types.StateRequestedTerminate && s.LoadedInstance == 0 {
			continue
		}
		if !strings.EqualFold(s.ABI, abi) {
			continue
		}
		if secured {
			if s.LoadedPackage != 0 {
				continue
			}
		} else {
			if s.Network != network {
				continue
			}
			if strings.EqualFold(s.ABI, r.cfg.DefaultABI) && s.LoadedPackage >= r.cfg.MaxLoad {
				continue
			}
		}
		return s, nil
	}
	return nil, ErrNotFound
}

// Ref increments a record's reference count.
func (r *Registry) Ref(s *types.Slave) {
	s.Refcount++
}

// Unref decrements a record's reference count. When it reaches zero and the
// slave has no live pid, the record is destroyed: delete-callbacks fire,
// its scratchpad is cleared, and it is removed from the registry. Its
// event lists are left as they are. Attempting to destroy a record that still has a pid is a
// programming error: the refcount still drops, but the record is not
// removed, and ErrPIDStillSet is returned for the caller to log.
func (r *Registry) Unref(s *types.Slave) error {
	s.Refcount--
	if s.Refcount > 0 {
		return nil
	}
	if s.PID != types.NoPID {
		return fmt.Errorf("%w: slave %q pid=%d", ErrPIDStillSet, s.Name, s.PID)
	}
	s.FireEvents(types.EventDelete)
	s.ClearData()
	r.remove(s.Name)
	return nil
}

func (r *Registry) remove(name string) {
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live records, for metrics.
func (r *Registry) Len() int {
	return len(r.order)
}

// CountByState reports how many records are in each state, for metrics.
func (r *Registry) CountByState() map[types.SlaveState]int {
	counts := make(map[types.SlaveState]int)
	for _, name := range r.order {
		counts[r.byName[name].State]++
	}
	return counts
}
