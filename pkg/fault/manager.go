package fault

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimbusdp/slaved/pkg/broadcast"
	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/types"
)

// LogReader reads and deletes the crash-log breadcrumb a slave leaves
// behind at SLAVE_LOG_PATH/slave.<pid>.
type LogReader interface {
	// ReadFirstLine returns the first line of the crash log for pid, and
	// whether the file existed at all.
	ReadFirstLine(pid int) (line string, exists bool, err error)
	// Delete removes the crash log for pid. Deleting a missing file is not
	// an error.
	Delete(pid int) error
}

// PackagePersister is the external package-metadata collaborator: fault
// attribution is persisted onto the package record it owns.
type PackagePersister interface {
	RecordFault(ctx context.Context, pkg, file, function string) error
}

// Broadcaster is the external RPC collaborator used to wire-broadcast
// fault_package to clients.
type Broadcaster interface {
	BroadcastFault(ctx context.Context, pkg, file, function string) error
}

const (
	logPackagePrefix = "liblive-"
	logPackageSuffix = ".so"
)

// Manager owns the shadow call stack and performs attribution.
type Manager struct {
	logReader  LogReader
	persister  PackagePersister
	broadcast  Broadcaster
	broker     *broadcast.Broker

	calls     []types.FaultCallRecord
	markCount int
}

// New creates a fault manager. broker may be nil if no in-process
// subscribers are needed (e.g. in tests).
func New(logReader LogReader, persister PackagePersister, bcast Broadcaster, broker *broadcast.Broker) *Manager {
	return &Manager{
		logReader: logReader,
		persister: persister,
		broadcast: bcast,
		broker:    broker,
	}
}

// Call records entry to a plugin function.
func (m *Manager) Call(slave, pkg, file, function string) {
	m.calls = append(m.calls, types.FaultCallRecord{
		Slave: slave, Package: pkg, File: file, Function: function,
	})
	m.markCount++
}

// ErrReturnNotFound is returned by Return when no matching call record
// exists: a mismatched return.
var ErrReturnNotFound = fmt.Errorf("fault: no matching call record for return")

// Return removes the first exact-match call record for (slave, pkg, file,
// function) — "first" meaning earliest-appended, consistent with FIFO
// nesting of well-behaved call/return pairs.
func (m *Manager) Return(slave, pkg, file, function string) error {
	for i, c := range m.calls {
		if c.Slave == slave && c.Package == pkg && c.File == file && c.Function == function {
			m.calls = append(m.calls[:i], m.calls[i+1:]...)
			m.markCount--
			if m.markCount < 0 {
				m.markCount = 0
			}
			return nil
		}
	}
	return ErrReturnNotFound
}

// MarkCount reports the current fault-mark counter, consulted only as a
// boolean ("is any plugin call outstanding anywhere") by callers that need
// it (it is exported primarily for metrics and tests).
func (m *Manager) MarkCount() int {
	return m.markCount
}

// Attribute runs the three-step attribution algorithm for a terminated
// slave and publishes the result to every registered collaborator. ok is
// false when attribution could not be made; attribution is best-effort,
// so that is reported as informational, not as an error.
//
// The fault-mark counter is reset to zero on every path out of here: the
// counter is only ever consulted as "is any plugin call outstanding," and
// after a crash has been accounted for, whatever it held is stale.
func (m *Manager) Attribute(ctx context.Context, slave *types.Slave) (attribution types.Attribution, ok bool, err error) {
	logger := log.WithSlave(slave.Name)

	m.markCount++ // set-fault
	defer func() { m.markCount = 0 }()

	if attr, matched, err := m.attributeFromLog(slave); err != nil {
		logger.Warn().Err(err).Msg("crash log probe failed")
	} else if matched {
		// A log match is authoritative and supersedes whatever the shadow
		// stack thinks is still outstanding for this slave.
		m.clearCallsForSlave(slave.Name)
		m.publish(ctx, slave, attr, "log")
		return attr, true, nil
	}

	if attr, matched := m.attributeFromSecuredSlave(slave); matched {
		m.clearCallsForSlave(slave.Name)
		m.publish(ctx, slave, attr, "secured")
		return attr, true, nil
	}

	if attr, matched := m.attributeFromCallStack(slave); matched {
		m.clearCallsForSlave(slave.Name)
		m.publish(ctx, slave, attr, "call_stack")
		return attr, true, nil
	}

	m.clearCallsForSlave(slave.Name)
	logger.Info().Msg("no fault attribution possible: no log, not secured-single-package, no outstanding calls")
	return types.Attribution{}, false, nil
}

func (m *Manager) attributeFromLog(slave *types.Slave) (types.Attribution, bool, error) {
	if slave.PID == types.NoPID {
		return types.Attribution{}, false, nil
	}
	line, exists, err := m.logReader.ReadFirstLine(slave.PID)
	if err != nil {
		return types.Attribution{}, false, err
	}
	if !exists {
		return types.Attribution{}, false, nil
	}
	line = strings.TrimSpace(strings.SplitN(line, "\n", 2)[0])
	if !strings.HasPrefix(line, logPackagePrefix) || !strings.HasSuffix(line, logPackageSuffix) {
		return types.Attribution{}, false, nil
	}
	pkg := strings.TrimSuffix(strings.TrimPrefix(line, logPackagePrefix), logPackageSuffix)
	if pkg == "" {
		return types.Attribution{}, false, nil
	}
	if err := m.logReader.Delete(slave.PID); err != nil {
		return types.Attribution{}, false, err
	}
	return types.Attribution{Package: pkg}, true, nil
}

func (m *Manager) attributeFromSecuredSlave(slave *types.Slave) (types.Attribution, bool) {
	if !slave.Secured || slave.LoadedPackage != 1 {
		return types.Attribution{}, false
	}
	return types.Attribution{Package: slave.Package}, true
}

// attributeFromCallStack walks the shadow call stack in reverse (most
// recent first), attributing the fault to the first record matching this
// slave. Any earlier record for this slave is logged as a "false log" —
// diagnostic only, it does not change the attribution.
func (m *Manager) attributeFromCallStack(slave *types.Slave) (types.Attribution, bool) {
	matchedIdx := -1
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Slave == slave.Name {
			matchedIdx = i
			break
		}
	}
	if matchedIdx == -1 {
		return types.Attribution{}, false
	}
	logger := log.WithSlave(slave.Name)
	for i := 0; i < matchedIdx; i++ {
		if m.calls[i].Slave != slave.Name {
			continue
		}
		logger.Debug().
			Str("package", m.calls[i].Package).
			Str("file", m.calls[i].File).
			Str("function", m.calls[i].Function).
			Msg("false log: earlier outstanding call superseded by a more recent one")
	}
	matched := m.calls[matchedIdx]
	return types.Attribution{Package: matched.Package, File: matched.File, Function: matched.Function}, true
}

// clearCallsForSlave removes every call record belonging to slave.
func (m *Manager) clearCallsForSlave(slave string) {
	kept := m.calls[:0]
	for _, c := range m.calls {
		if c.Slave == slave {
			continue
		}
		kept = append(kept, c)
	}
	m.calls = kept
}

func (m *Manager) publish(ctx context.Context, slave *types.Slave, attr types.Attribution, source string) {
	logger := log.WithSlave(slave.Name)

	if m.persister != nil {
		if err := m.persister.RecordFault(ctx, attr.Package, attr.File, attr.Function); err != nil {
			logger.Error().Err(err).Str("package", attr.Package).Msg("failed to persist fault attribution")
		}
	}
	if m.broadcast != nil {
		if err := m.broadcast.BroadcastFault(ctx, attr.Package, attr.File, attr.Function); err != nil {
			logger.Error().Err(err).Str("package", attr.Package).Msg("failed to wire-broadcast fault_package")
		}
	}
	if m.broker != nil {
		m.broker.Publish(&broadcast.Event{
			Type:     broadcast.TypeFaultPackage,
			Slave:    slave.Name,
			Package:  attr.Package,
			File:     attr.File,
			Function: attr.Function,
		})
	}
	logger.Warn().
		Str("package", attr.Package).
		Str("file", attr.File).
		Str("function", attr.Function).
		Str("source", source).
		Msg("fault attributed")
}
