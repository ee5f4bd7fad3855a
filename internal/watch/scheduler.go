package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ctfwatch/internal/eventbus"
	logx "ctfwatch/pkg/logx"
)

// Scheduler turns each fetched batch of events into armed milestone notices.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	ledger  *Ledger
	source  EventSource
	alarms  Alarms
	clock   Clock
	out     *fanout
	watcher *ScoreboardWatcher
	log     logx.Logger
	bus     eventbus.Bus
}

func (s *Scheduler) apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tick runs one poll cycle. A failed fetch skips the cycle, scoreboard pass
// included. The returned error is either that fetch failure or the first
// persistence failure; in the latter case the cycle still ran to completion.
func (s *Scheduler) Tick(ctx context.Context) (TickInfo, error) {
	start := time.Now()
	cfg := s.config()
	now := s.clock.Now()
	info := TickInfo{}

	events, err := s.source.FetchUpcoming(ctx, cfg.FetchLimit, now, time.Time{})
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = &FetchError{Op: "fetch upcoming", Err: err}
		}
		s.log.Warn("event fetch failed; skipping tick", logx.Err(err))
		info.Took = time.Since(start)
		s.bus.Publish(eventbus.Event{Type: TopicTick, Data: info})
		return info, err
	}
	info.Fetched = len(events)

	var persistErr error
	keep := func(err error) {
		if err != nil && persistErr == nil {
			persistErr = err
		}
	}

	for _, ev := range events {
		until := ev.Start.Sub(now)
		if until < 0 {
			// Catch-up notice; not recorded in the ledger.
			s.arm(NoticeStarted, ev, 0)
			info.Started++
			continue
		}
		if until > DayBefore.Lead() {
			continue
		}

		armed, err := s.ledger.MarkWarned(ctx, DayBefore, ev.ID, now, ev.Finish())
		keep(err)
		if armed {
			s.arm(NoticeDay, ev, max(0, until-DayBefore.Lead()))
			info.DayArmed++
		}

		if until < cfg.HourWindow {
			armed, err := s.ledger.MarkWarned(ctx, HourBefore, ev.ID, now, ev.Finish())
			keep(err)
			if armed {
				s.arm(NoticeHour, ev, max(0, until-HourBefore.Lead()))
				info.HourArmed++
			}
		}
	}

	info.Retired = s.watcher.Pass(ctx, now)
	info.OK = true
	info.Took = time.Since(start)
	s.bus.Publish(eventbus.Event{Type: TopicTick, Data: info})

	lvl := s.log.Debug
	if info.DayArmed+info.HourArmed+info.Started+info.Retired > 0 {
		lvl = s.log.Info
	}
	lvl("tick done",
		logx.Int("fetched", info.Fetched),
		logx.Int("day_armed", info.DayArmed),
		logx.Int("hour_armed", info.HourArmed),
		logx.Int("started", info.Started),
		logx.Int("retired", info.Retired),
		logx.Duration("took", info.Took))
	return info, persistErr
}

func (s *Scheduler) arm(kind Notice, ev Event, delay time.Duration) {
	name := fmt.Sprintf("%s:%d", kind, ev.ID)
	s.alarms.Schedule(delay, name, func(ctx context.Context) {
		s.out.broadcast(ctx, kind, ev)
	})
	s.bus.Publish(eventbus.Event{Type: TopicArmed, Data: kind})
	s.log.Debug("notice armed", logx.Int64("event_id", ev.ID), logx.String("kind", string(kind)), logx.Duration("delay", delay))
}
