package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Tests use it directly; Open returns it for
// the "memory" driver.
type Memory struct {
	mu     sync.Mutex
	subs   Subscriptions
	ledger Ledger
	audit  []AuditEntry

	// Fail, when set, makes every Save/Append return it.
	Fail error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadSubscriptions(context.Context) (Subscriptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSubscriptions(m.subs), nil
}

func (m *Memory) SaveSubscriptions(_ context.Context, s Subscriptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.subs = cloneSubscriptions(s)
	return nil
}

func (m *Memory) LoadLedger(context.Context) (Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneLedger(m.ledger), nil
}

func (m *Memory) SaveLedger(_ context.Context, l Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.ledger = cloneLedger(l)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the appended audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }

func cloneSubscriptions(s Subscriptions) Subscriptions {
	out := Subscriptions{All: append([]int64(nil), s.All...)}
	if s.Teams != nil {
		out.Teams = make(map[int64][]string, len(s.Teams))
		for k, v := range s.Teams {
			out.Teams[k] = append([]string(nil), v...)
		}
	}
	if s.Timezones != nil {
		out.Timezones = make(map[int64]int, len(s.Timezones))
		for k, v := range s.Timezones {
			out.Timezones[k] = v
		}
	}
	return out
}

func cloneLedger(l Ledger) Ledger {
	return Ledger{
		Day:  append([]LedgerEntry(nil), l.Day...),
		Hour: append([]LedgerEntry(nil), l.Hour...),
	}
}
