package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "ctfwatch/pkg/logx"
)

func TestAlarmQueueFiresInOrder(t *testing.T) {
	t.Parallel()
	q := NewAlarmQueue(1, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	record := func(name string) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			got = append(got, name)
			n := len(got)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		}
	}
	q.Schedule(60*time.Millisecond, "late", record("late"))
	q.Schedule(0, "now", record("now"))
	q.Schedule(20*time.Millisecond, "soon", record("soon"))

	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alarms did not fire")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"now", "soon", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestAlarmQueueWakesForEarlierAlarm(t *testing.T) {
	t.Parallel()
	q := NewAlarmQueue(2, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Schedule(time.Hour, "far", func(context.Context) {})
	fired := make(chan struct{})
	q.Schedule(0, "near", func(context.Context) { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("earlier alarm waited behind a later one")
	}
	if n := q.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestAlarmQueueRecoversPanics(t *testing.T) {
	t.Parallel()
	q := NewAlarmQueue(1, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Schedule(0, "boom", func(context.Context) { panic("boom") })
	fired := make(chan struct{})
	q.Schedule(0, "after", func(context.Context) { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after panic")
	}
	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	if err := q.Drain(dctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
