package supervisor

import (
	"context"

	"github.com/nimbusdp/slaved/pkg/types"
)

// DeactivateAll is reference-counted: nested calls only take effect the
// first time. Every currently active slave is
// deactivated with the given reactivation flags, and their names are
// remembered so the matching ActivateAll knows what to relaunch.
func (e *Engine) DeactivateAll(ctx context.Context, reactivate, reactivateInstances bool) (Code, error) {
	e.quiesceDepth++
	if e.quiesceDepth > 1 {
		return ALREADY, nil
	}

	e.quiescedNames = e.quiescedNames[:0]
	for _, s := range e.reg.All() {
		if !s.State.Active() {
			continue
		}
		s.ReactivateSlave = reactivate
		s.ReactivateInstances = reactivateInstances
		e.quiescedNames = append(e.quiescedNames, s.Name)
		_, _ = e.Deactivate(ctx, s, "bulk_quiesce")
	}
	return OK, nil
}

// ActivateAll is the symmetric release: the nested-scope counter must
// reach zero before any slave is relaunched.
func (e *Engine) ActivateAll(ctx context.Context) (Code, error) {
	if e.quiesceDepth == 0 {
		return INVALID, newError("activate_all", INVALID, nil)
	}
	e.quiesceDepth--
	if e.quiesceDepth > 0 {
		return ALREADY, nil
	}

	names := e.quiescedNames
	e.quiescedNames = nil
	for _, name := range names {
		s, err := e.reg.FindByName(name)
		if err != nil {
			continue // destroyed while quiesced (no loaded instances)
		}
		if s.State == types.StateTerminated {
			_, _ = e.Launch(ctx, s)
		}
	}
	return OK, nil
}
