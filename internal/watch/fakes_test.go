package watch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"ctfwatch/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	mu          sync.Mutex
	events      []Event
	fetchErr    error
	fetches     int
	rosters     map[int64][]string
	rosterErr   error
	scoreboards map[int64][]TeamScore
	titles      map[int64]string
	teams       map[int64]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rosters:     map[int64][]string{},
		scoreboards: map[int64][]TeamScore{},
		titles:      map[int64]string{},
		teams:       map[int64]string{},
	}
}

func (s *fakeSource) FetchUpcoming(_ context.Context, limit int, since, until time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := append([]Event(nil), s.events...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSource) FetchParticipants(_ context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rosterErr != nil {
		return nil, s.rosterErr
	}
	return append([]string(nil), s.rosters[id]...), nil
}

func (s *fakeSource) FetchScoreboard(_ context.Context, id int64) ([]TeamScore, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TeamScore(nil), s.scoreboards[id]...), s.titles[id], nil
}

func (s *fakeSource) TeamName(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.teams[id]
	if !ok {
		return "", errors.New("team not found")
	}
	return name, nil
}

type sentMessage struct {
	To   int64
	Text string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[int64]error
}

func (n *fakeNotifier) Send(_ context.Context, to int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[to]; err != nil {
		return err
	}
	n.sent = append(n.sent, sentMessage{To: to, Text: text})
	return nil
}

func (n *fakeNotifier) Sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *fakeNotifier) Recipients() []int64 {
	var out []int64
	for _, m := range n.Sent() {
		out = append(out, m.To)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// manualAlarms records armed actions; tests fire them explicitly.
type manualAlarms struct {
	mu     sync.Mutex
	armed  []manualAlarm
	nextID int
}

type manualAlarm struct {
	Name  string
	Delay time.Duration
	Fn    func(ctx context.Context)
}

func (a *manualAlarms) Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.armed = append(a.armed, manualAlarm{Name: name, Delay: delay, Fn: fn})
	return name
}

func (a *manualAlarms) Armed() []manualAlarm {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]manualAlarm(nil), a.armed...)
}

// FireAll runs and forgets every armed action.
func (a *manualAlarms) FireAll(ctx context.Context) {
	a.mu.Lock()
	armed := a.armed
	a.armed = nil
	a.mu.Unlock()
	for _, al := range armed {
		al.Fn(ctx)
	}
}

type harness struct {
	clock    *fakeClock
	source   *fakeSource
	notifier *fakeNotifier
	alarms   *manualAlarms
	store    *storage.Memory
	engine   *Engine
}

func newHarness(t testing.TB, store *storage.Memory) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	h := &harness{
		clock:    newFakeClock(),
		source:   newFakeSource(),
		notifier: &fakeNotifier{},
		alarms:   &manualAlarms{},
		store:    store,
	}
	e, err := New(context.Background(), Config{}, Deps{
		Source:        h.source,
		Notifier:      h.notifier,
		Subscriptions: store,
		Ledger:        store,
		Clock:         h.clock,
		Alarms:        h.alarms,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}
