package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/storage"
	logx "ctfwatch/pkg/logx"
)

// Ledger is the durable record of which milestones have been scheduled.
//
// The hour-warned set doubles as the worklist for results polling: an event
// stays there until its scoreboard is delivered and the event is retired.
type Ledger struct {
	mu   sync.Mutex
	day  map[int64]storage.LedgerEntry
	hour map[int64]storage.LedgerEntry

	store LedgerStore
	log   logx.Logger
	bus   eventbus.Bus
}

// NewLedger loads the persisted ledger from store.
func NewLedger(ctx context.Context, store LedgerStore, log logx.Logger, bus eventbus.Bus) (*Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	l := &Ledger{
		day:   map[int64]storage.LedgerEntry{},
		hour:  map[int64]storage.LedgerEntry{},
		store: store,
		log:   log,
		bus:   bus,
	}
	if store == nil {
		return l, nil
	}
	st, err := store.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	for _, e := range st.Day {
		l.day[e.EventID] = e
	}
	for _, e := range st.Hour {
		l.hour[e.EventID] = e
	}
	log.Info("ledger loaded", logx.Int("day", len(l.day)), logx.Int("hour", len(l.hour)))
	return l, nil
}

func (l *Ledger) set(kind Milestone) map[int64]storage.LedgerEntry {
	if kind == HourBefore {
		return l.hour
	}
	return l.day
}

func (l *Ledger) IsWarned(kind Milestone, eventID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.set(kind)[eventID]
	return ok
}

// MarkWarned records the milestone for eventID. It reports whether the
// entry is new; a second call is a no-op that returns false. finish may be
// zero when the event's end is unknown.
//
// The returned error is a persistence failure only: the in-memory entry
// stands either way.
func (l *Ledger) MarkWarned(ctx context.Context, kind Milestone, eventID int64, at, finish time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.set(kind)
	if _, ok := set[eventID]; ok {
		return false, nil
	}
	set[eventID] = storage.LedgerEntry{EventID: eventID, WarnedAt: at, Finish: finish}
	return true, l.persistLocked(ctx)
}

// Retire removes eventID from both sets. Retiring an unknown id is a no-op.
func (l *Ledger) Retire(ctx context.Context, eventID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, inDay := l.day[eventID]
	_, inHour := l.hour[eventID]
	if !inDay && !inHour {
		return false, nil
	}
	delete(l.day, eventID)
	delete(l.hour, eventID)
	return true, l.persistLocked(ctx)
}

// EvictOlderThan drops entries warned before cutoff, for events that left the
// feed without ever producing a scoreboard. It returns the distinct event ids removed.
func (l *Ledger) EvictOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[int64]struct{}{}
	for _, set := range []map[int64]storage.LedgerEntry{l.day, l.hour} {
		for id, e := range set {
			if e.WarnedAt.Before(cutoff) {
				delete(set, id)
				seen[id] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, l.persistLocked(ctx)
}

// Snapshot returns the sorted day-warned and hour-warned identifiers.
func (l *Ledger) Snapshot() (day, hour []int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.day), sortedKeys(l.hour)
}

// HourWarned returns the hour-warned entries ordered by event id.
func (l *Ledger) HourWarned() []storage.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]storage.LedgerEntry, 0, len(l.hour))
	for _, e := range l.hour {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (l *Ledger) stateLocked() storage.Ledger {
	return storage.Ledger{Day: sortedEntries(l.day), Hour: sortedEntries(l.hour)}
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := l.store.SaveLedger(cctx, l.stateLocked()); err != nil {
		l.log.Error("ledger persist failed; state may be lost on restart", logx.Err(err))
		l.bus.Publish(eventbus.Event{Type: TopicPersistFailed, Data: "ledger"})
		return fmt.Errorf("%w: ledger: %v", ErrPersist, err)
	}
	return nil
}

func sortedKeys(m map[int64]storage.LedgerEntry) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedEntries(m map[int64]storage.LedgerEntry) []storage.LedgerEntry {
	out := make([]storage.LedgerEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}
