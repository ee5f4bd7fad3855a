package watch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ctfwatch/internal/storage"
	logx "ctfwatch/pkg/logx"
)

// Fired alarms, ticks, the scoreboard pass and subscription changes all touch
// the registry and ledger at once. Run with -race.
func TestConcurrentFireTickAndMutate(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemory()
	clock := newFakeClock()
	source := newFakeSource()
	notifier := &fakeNotifier{}
	queue := NewAlarmQueue(4, logx.Nop())

	const events = 51
	now := clock.Now()
	for i := 1; i <= events; i++ {
		source.events = append(source.events, Event{ID: int64(i), Title: "E", Start: now.Add(23 * time.Hour), Duration: time.Hour})
	}
	source.titles[900] = "Done CTF"
	source.scoreboards[900] = []TeamScore{{Team: "Shellphish", Place: 1, Points: 10}}

	e, err := New(ctx, Config{FetchLimit: 100}, Deps{
		Source:        source,
		Notifier:      notifier,
		Subscriptions: store,
		Ledger:        store,
		Clock:         clock,
		Alarms:        queue,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = e.Subscribe(ctx, 1, nil)
	past := now.Add(-2 * time.Hour)
	_, _ = e.State().Ledger.MarkWarned(ctx, HourBefore, 900, past, past)

	go queue.Run(ctx)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		id := int64(1000 + g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = e.Subscribe(ctx, id, nil)
				_ = e.Subscribe(ctx, id, []string{"Shellphish"})
				_ = e.ListSubscriptions(id)
				_ = e.UnsubscribeAllTeams(ctx, id)
				_ = e.Unsubscribe(ctx, id, nil)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Tick(ctx); err != nil {
				t.Errorf("Tick: %v", err)
			}
		}()
	}
	wg.Wait()

	dayWarnings := func() int {
		n := 0
		for _, m := range notifier.Sent() {
			if m.To == 1 && strings.Contains(m.Text, "starts in 1 day") {
				n++
			}
		}
		return n
	}
	deadline := time.Now().Add(5 * time.Second)
	for dayWarnings() < events {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d day warnings, want %d", dayWarnings(), events)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	if err := queue.Drain(drainCtx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if n := dayWarnings(); n != events {
		t.Fatalf("delivered %d day warnings, want exactly %d", n, events)
	}
	for i := 1; i <= events; i++ {
		if !e.State().Ledger.IsWarned(DayBefore, int64(i)) {
			t.Fatalf("event %d not recorded", i)
		}
	}
	if e.State().Ledger.IsWarned(HourBefore, 900) {
		t.Fatal("finished event not retired")
	}
	all, teams := e.State().Registry.List(1000)
	if all || len(teams) != 0 {
		t.Fatalf("churned recipient left subscribed: %v %v", all, teams)
	}
}
