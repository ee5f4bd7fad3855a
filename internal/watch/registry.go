package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/storage"
	logx "ctfwatch/pkg/logx"
)

// Registry maps recipients to their interests: every event ("all"), named
// teams, and a display timezone.
//
// Team names are folded with FoldTeam on the way in; every membership check
// compares folded names. A recipient without team subscriptions has an empty
// team list, never a missing one.
type Registry struct {
	mu    sync.RWMutex
	all   map[int64]struct{}
	teams map[int64][]string
	tz    map[int64]int

	store SubscriptionStore
	log   logx.Logger
	bus   eventbus.Bus
}

// FoldTeam normalizes a team name for comparison: trimmed, inner whitespace
// collapsed, lowercased.
func FoldTeam(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NewRegistry loads the persisted registry from store.
func NewRegistry(ctx context.Context, store SubscriptionStore, log logx.Logger, bus eventbus.Bus) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	r := &Registry{
		all:   map[int64]struct{}{},
		teams: map[int64][]string{},
		tz:    map[int64]int{},
		store: store,
		log:   log,
		bus:   bus,
	}
	if store == nil {
		return r, nil
	}
	st, err := store.LoadSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, id := range st.All {
		r.all[id] = struct{}{}
	}
	for id, names := range st.Teams {
		for _, n := range names {
			if f := FoldTeam(n); f != "" && !contains(r.teams[id], f) {
				r.teams[id] = append(r.teams[id], f)
			}
		}
	}
	for id, off := range st.Timezones {
		r.tz[id] = off
	}
	log.Info("subscriptions loaded", logx.Int("all", len(r.all)), logx.Int("team_recipients", len(r.teams)))
	return r, nil
}

func (r *Registry) SubscribeAll(ctx context.Context, recipient int64) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.all[recipient]; ok {
		return AlreadySubscribed, nil
	}
	r.all[recipient] = struct{}{}
	return OK, r.persistLocked(ctx)
}

func (r *Registry) UnsubscribeAll(ctx context.Context, recipient int64) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.all[recipient]; !ok {
		return NotSubscribed, nil
	}
	delete(r.all, recipient)
	return OK, r.persistLocked(ctx)
}

func (r *Registry) SubscribeTeam(ctx context.Context, recipient int64, team string) (Outcome, error) {
	name := FoldTeam(team)
	if name == "" {
		return NotSubscribed, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if contains(r.teams[recipient], name) {
		return AlreadySubscribed, nil
	}
	r.teams[recipient] = append(r.teams[recipient], name)
	return OK, r.persistLocked(ctx)
}

func (r *Registry) UnsubscribeTeam(ctx context.Context, recipient int64, team string) (Outcome, error) {
	name := FoldTeam(team)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.teams[recipient]
	idx := -1
	for i, n := range cur {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NotSubscribed, nil
	}
	next := append(append([]string(nil), cur[:idx]...), cur[idx+1:]...)
	if len(next) == 0 {
		delete(r.teams, recipient)
	} else {
		r.teams[recipient] = next
	}
	return OK, r.persistLocked(ctx)
}

func (r *Registry) UnsubscribeAllTeams(ctx context.Context, recipient int64) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.teams[recipient]) == 0 {
		return EmptyToBegin, nil
	}
	delete(r.teams, recipient)
	return OK, r.persistLocked(ctx)
}

// List reports whether recipient is subscribed to all events, and its teams
// in subscription order.
func (r *Registry) List(recipient int64) (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, all := r.all[recipient]
	return all, append([]string{}, r.teams[recipient]...)
}

// Recipients returns everyone who should hear about an event with the given
// roster: all-events subscribers plus recipients holding a team on it. Each
// recipient appears once.
func (r *Registry) Recipients(roster []string) []int64 {
	onRoster := foldSet(roster)
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]struct{}, len(r.all))
	for id := range r.all {
		seen[id] = struct{}{}
	}
	for id, names := range r.teams {
		for _, n := range names {
			if _, ok := onRoster[n]; ok {
				seen[id] = struct{}{}
				break
			}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// TeamMatches maps each recipient holding at least one of teams to the
// folded names it matched. All-events subscribership plays no part here.
func (r *Registry) TeamMatches(teams []string) map[int64][]string {
	present := foldSet(teams)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[int64][]string{}
	for id, names := range r.teams {
		for _, n := range names {
			if _, ok := present[n]; ok {
				out[id] = append(out[id], n)
			}
		}
	}
	return out
}

// SetTimezone stores recipient's UTC offset in whole hours.
func (r *Registry) SetTimezone(ctx context.Context, recipient int64, offsetHours int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tz[recipient]; ok && cur == offsetHours {
		return nil
	}
	r.tz[recipient] = offsetHours
	return r.persistLocked(ctx)
}

// Timezone returns recipient's UTC offset; ok is false when unset (UTC).
func (r *Registry) Timezone(recipient int64) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	off, ok := r.tz[recipient]
	return off, ok
}

// Count returns the number of all-events subscribers and of team-subscribed recipients.
func (r *Registry) Count() (all, team int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all), len(r.teams)
}

// Snapshot returns the registry in its persisted form.
func (r *Registry) Snapshot() storage.Subscriptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked()
}

func (r *Registry) stateLocked() storage.Subscriptions {
	st := storage.Subscriptions{
		All:       make([]int64, 0, len(r.all)),
		Teams:     make(map[int64][]string, len(r.teams)),
		Timezones: make(map[int64]int, len(r.tz)),
	}
	for id := range r.all {
		st.All = append(st.All, id)
	}
	sortIDs(st.All)
	for id, names := range r.teams {
		st.Teams[id] = append([]string(nil), names...)
	}
	for id, off := range r.tz {
		st.Timezones[id] = off
	}
	return st
}

func (r *Registry) persistLocked(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.SaveSubscriptions(cctx, r.stateLocked()); err != nil {
		r.log.Error("subscriptions persist failed; state may be lost on restart", logx.Err(err))
		r.bus.Publish(eventbus.Event{Type: TopicPersistFailed, Data: "subscriptions"})
		return fmt.Errorf("%w: subscriptions: %v", ErrPersist, err)
	}
	return nil
}

func foldSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if f := FoldTeam(n); f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
