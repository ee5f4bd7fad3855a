package watch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	logx "ctfwatch/pkg/logx"
)

// Alarms arms deferred actions. Armed actions cannot be cancelled.
type Alarms interface {
	Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string
}

type alarm struct {
	id    string
	name  string
	at    time.Time
	fn    func(ctx context.Context)
	index int
}

type alarmHeap []*alarm

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}
func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *alarmHeap) Push(x any) {
	a := x.(*alarm)
	a.index = len(*h)
	*h = append(*h, a)
}
func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}

// AlarmQueue is a priority queue of (fire time, action) driven by a single
// waiter goroutine. Due actions run on their own goroutines, at most
// `concurrency` at a time, so a slow delivery never delays the waiter.
type AlarmQueue struct {
	mu   sync.Mutex
	h    alarmHeap
	wake chan struct{}

	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log logx.Logger
}

func NewAlarmQueue(concurrency int, log logx.Logger) *AlarmQueue {
	if concurrency <= 0 {
		concurrency = 8
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AlarmQueue{
		wake: make(chan struct{}, 1),
		sem:  semaphore.NewWeighted(int64(concurrency)),
		log:  log,
	}
}

// Schedule arms fn to run after delay (negative delays run immediately) and
// returns the alarm id. It may be called before Run.
func (q *AlarmQueue) Schedule(delay time.Duration, name string, fn func(ctx context.Context)) string {
	if delay < 0 {
		delay = 0
	}
	a := &alarm{id: uuid.NewString(), name: name, at: time.Now().Add(delay), fn: fn}
	q.mu.Lock()
	heap.Push(&q.h, a)
	head := q.h[0] == a
	q.mu.Unlock()
	if head {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.log.Debug("alarm armed", logx.String("id", a.id), logx.String("name", name), logx.Duration("delay", delay))
	return a.id
}

// Len reports how many alarms are waiting to fire.
func (q *AlarmQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Run fires alarms until ctx is done. Alarms still pending at that point are
// dropped; call Drain to wait for the ones already firing.
func (q *AlarmQueue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait, ok := q.fireDue(ctx)
		if !ok {
			return
		}
		var tc <-chan time.Time
		timer.Stop()
		if wait > 0 {
			timer.Reset(wait)
			tc = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-tc:
		}
	}
}

// fireDue dispatches every due alarm and returns the wait until the next one
// (zero when the queue is empty).
func (q *AlarmQueue) fireDue(ctx context.Context) (time.Duration, bool) {
	for {
		q.mu.Lock()
		if q.h.Len() == 0 {
			q.mu.Unlock()
			return 0, true
		}
		next := q.h[0]
		if wait := time.Until(next.at); wait > 0 {
			q.mu.Unlock()
			return wait, true
		}
		heap.Pop(&q.h)
		q.mu.Unlock()

		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.log.Warn("alarm dropped on shutdown", logx.String("id", next.id), logx.String("name", next.name))
			return 0, false
		}
		q.wg.Add(1)
		go q.fire(ctx, next)
	}
}

func (q *AlarmQueue) fire(ctx context.Context, a *alarm) {
	defer q.wg.Done()
	defer q.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("alarm panic", logx.String("id", a.id), logx.String("name", a.name), logx.Any("panic", r))
		}
	}()
	start := time.Now()
	a.fn(ctx)
	q.log.Debug("alarm fired", logx.String("id", a.id), logx.String("name", a.name), logx.Duration("took", time.Since(start)))
}

// Drain waits for alarms that are currently firing.
func (q *AlarmQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
