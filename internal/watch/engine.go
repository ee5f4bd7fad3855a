package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/runtime/supervisor"
	logx "ctfwatch/pkg/logx"
	"ctfwatch/pkg/tgui"
)

// Config holds the engine tunables. Zero values select defaults.
type Config struct {
	Interval         time.Duration
	FetchLimit       int
	HourWindow       time.Duration
	UpcomingLimit    int
	UpcomingWindow   time.Duration
	NowLookback      time.Duration
	LedgerRetention  time.Duration
	EvictionSchedule string // cron spec; "" disables eviction
	FireConcurrency  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 300 * time.Second
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 20
	}
	if c.HourWindow <= 0 {
		c.HourWindow = 5 * time.Hour
	}
	if c.UpcomingLimit <= 0 {
		c.UpcomingLimit = 5
	}
	if c.UpcomingWindow <= 0 {
		c.UpcomingWindow = 7 * 24 * time.Hour
	}
	if c.NowLookback <= 0 {
		c.NowLookback = 7 * 24 * time.Hour
	}
	if c.LedgerRetention <= 0 {
		c.LedgerRetention = 30 * 24 * time.Hour
	}
	if c.FireConcurrency <= 0 {
		c.FireConcurrency = 8
	}
	return c
}

// Deps are the engine's collaborators. Source, Notifier and both stores are
// required; the rest default.
type Deps struct {
	Source        EventSource
	Notifier      Notifier
	Subscriptions SubscriptionStore
	Ledger        LedgerStore

	Clock  Clock
	Alarms Alarms // nil: an internal AlarmQueue started with the engine
	Log    logx.Logger
	Bus    eventbus.Bus
}

// State is the engine's mutable shared state.
type State struct {
	Ledger   *Ledger
	Registry *Registry
}

// Engine owns the tick loop and exposes the subscription operations to the
// command layer.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	state     *State
	source    EventSource
	clock     Clock
	queue     *AlarmQueue
	scheduler *Scheduler
	log       logx.Logger
	bus       eventbus.Bus

	sup       *supervisor.Supervisor
	cron      *cron.Cron
	evictSpec string
	evictID   cron.EntryID
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New loads persisted state and wires the engine. It does not start any
// goroutine; see Start.
func New(ctx context.Context, cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Notifier == nil {
		return nil, errors.New("watch: source and notifier are required")
	}
	if deps.Subscriptions == nil || deps.Ledger == nil {
		return nil, errors.New("watch: subscription and ledger stores are required")
	}
	cfg = cfg.withDefaults()
	if cfg.EvictionSchedule != "" {
		if _, err := cronParser.Parse(cfg.EvictionSchedule); err != nil {
			return nil, fmt.Errorf("watch: eviction schedule %q: %w", cfg.EvictionSchedule, err)
		}
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "watch"))
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	reg, err := NewRegistry(ctx, deps.Subscriptions, log, bus)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(ctx, deps.Ledger, log, bus)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		state:  &State{Ledger: ledger, Registry: reg},
		source: deps.Source,
		clock:  clock,
		log:    log,
		bus:    bus,
	}
	alarms := deps.Alarms
	if alarms == nil {
		e.queue = NewAlarmQueue(cfg.FireConcurrency, log.With(logx.String("comp", "alarms")))
		alarms = e.queue
	}
	out := &fanout{reg: reg, source: deps.Source, notifier: deps.Notifier, log: log, bus: bus}
	e.scheduler = &Scheduler{
		cfg:    cfg,
		ledger: ledger,
		source: deps.Source,
		alarms: alarms,
		clock:  clock,
		out:    out,
		watcher: &ScoreboardWatcher{
			ledger: ledger,
			reg:    reg,
			source: deps.Source,
			out:    out,
			log:    log,
			bus:    bus,
		},
		log: log,
		bus: bus,
	}
	return e, nil
}

func (e *Engine) State() *State { return e.state }

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Pending reports alarms armed but not yet fired (0 with external Alarms).
func (e *Engine) Pending() int {
	if e.queue == nil {
		return 0
	}
	return e.queue.Len()
}

// Start launches the tick loop, the alarm queue and the eviction schedule.
// The first tick runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup != nil {
		return nil
	}
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
	if e.queue != nil {
		e.sup.Go0("watch.alarms", e.queue.Run)
	}
	e.sup.Go0("watch.tick", e.loop)

	e.cron = cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	e.registerEvictionLocked()
	e.cron.Start()

	e.log.Info("engine started",
		logx.Duration("interval", e.cfg.Interval),
		logx.Int("fetch_limit", e.cfg.FetchLimit),
		logx.String("eviction", e.cfg.EvictionSchedule))
	return nil
}

// Stop halts the loop and waits for in-flight deliveries. Alarms that have
// not fired yet are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	sup, c := e.sup, e.cron
	e.sup, e.cron = nil, nil
	e.mu.Unlock()
	if sup == nil {
		return nil
	}
	start := time.Now()
	pending := e.Pending()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	err := sup.Stop(ctx)
	if e.queue != nil {
		if derr := e.queue.Drain(ctx); derr != nil && err == nil {
			err = derr
		}
	}
	e.log.Info("engine stopped", logx.Int("dropped_alarms", pending), logx.Duration("took", time.Since(start)))
	return err
}

// Apply swaps tunables at runtime. A new interval takes effect after the
// current wait.
func (e *Engine) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.EvictionSchedule != "" {
		if _, err := cronParser.Parse(cfg.EvictionSchedule); err != nil {
			return fmt.Errorf("watch: eviction schedule %q: %w", cfg.EvictionSchedule, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.scheduler.apply(cfg)
	if e.cron != nil && cfg.EvictionSchedule != e.evictSpec {
		e.registerEvictionLocked()
	}
	e.log.Info("engine config applied", logx.Duration("interval", cfg.Interval), logx.Int("fetch_limit", cfg.FetchLimit))
	return nil
}

func (e *Engine) registerEvictionLocked() {
	if e.evictID != 0 {
		e.cron.Remove(e.evictID)
		e.evictID = 0
	}
	e.evictSpec = e.cfg.EvictionSchedule
	if e.evictSpec == "" {
		return
	}
	ctx := e.sup.Context()
	id, err := e.cron.AddFunc(e.evictSpec, func() { e.Evict(ctx) })
	if err != nil {
		e.log.Error("eviction schedule register failed", logx.String("spec", e.evictSpec), logx.Err(err))
		return
	}
	e.evictID = id
}

func (e *Engine) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Interval
}

// loop waits a full interval after each tick completes, so slow ticks drift.
func (e *Engine) loop(ctx context.Context) {
	for {
		_, _ = e.Tick(ctx)
		t := time.NewTimer(e.interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Tick runs a single poll cycle. It never fails the process: fetch failures
// skip the cycle and persistence failures are logged by the stores.
func (e *Engine) Tick(ctx context.Context) (TickInfo, error) {
	info, err := e.scheduler.Tick(ctx)
	if err != nil && errors.Is(err, ErrPersist) {
		e.log.Warn("tick completed with unsaved state", logx.Err(err))
	}
	return info, err
}

// Evict drops ledger entries older than the configured retention.
func (e *Engine) Evict(ctx context.Context) int {
	cutoff := e.clock.Now().Add(-e.Config().LedgerRetention)
	ids, err := e.state.Ledger.EvictOlderThan(ctx, cutoff)
	if len(ids) > 0 {
		e.bus.Publish(eventbus.Event{Type: TopicEvicted, Data: len(ids)})
		e.log.Info("ledger entries evicted", logx.Int("count", len(ids)), logx.Time("cutoff", cutoff), logx.Err(err))
	}
	return len(ids)
}

const unsavedSuffix = "\n(warning: this change could not be saved and may be lost on restart)"

// SplitArgs turns command arguments into team names: the words are rejoined
// with spaces and split on commas.
func SplitArgs(args []string) []string {
	joined := strings.Join(args, " ")
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if p := strings.Join(strings.Fields(part), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveTeam maps "#1234" to the team's name when the source can.
func (e *Engine) resolveTeam(ctx context.Context, raw string) (string, error) {
	if !strings.HasPrefix(raw, "#") {
		return raw, nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return raw, nil
	}
	tr, ok := e.source.(TeamResolver)
	if !ok {
		return "", fmt.Errorf("team lookup is not available")
	}
	name, err := tr.TeamName(ctx, id)
	if err != nil {
		return "", err
	}
	return name, nil
}

// Result messages are HTML; user input is escaped.

// Subscribe subscribes recipient to every event when args is empty, or to
// the comma-separated teams in args.
func (e *Engine) Subscribe(ctx context.Context, recipient int64, args []string) Result {
	reg := e.state.Registry
	teams := SplitArgs(args)
	if len(teams) == 0 {
		out, err := reg.SubscribeAll(ctx, recipient)
		switch out {
		case AlreadySubscribed:
			return Result{Success: false, Message: "You are already subscribed to all events."}
		default:
			return withWarning(Result{Success: true, Message: "Subscribed to all events."}, err)
		}
	}

	var lines []string
	success := true
	var perr error
	for _, raw := range teams {
		name, err := e.resolveTeam(ctx, raw)
		if err != nil {
			e.log.Warn("team lookup failed", logx.String("team", raw), logx.Err(err))
			lines = append(lines, "Could not look up team "+esc(raw)+".")
			success = false
			continue
		}
		out, err := reg.SubscribeTeam(ctx, recipient, name)
		if err != nil && perr == nil {
			perr = err
		}
		switch out {
		case OK:
			lines = append(lines, "Subscribed to team "+esc(FoldTeam(name))+".")
		case AlreadySubscribed:
			lines = append(lines, "Already subscribed to team "+esc(FoldTeam(name))+".")
			success = false
		default:
			lines = append(lines, "Invalid team name "+esc(raw)+".")
			success = false
		}
	}
	return withWarning(Result{Success: success, Message: strings.Join(lines, "\n")}, perr)
}

// Unsubscribe is the inverse of Subscribe. Without args it only leaves the
// all-events list; team subscriptions are kept.
func (e *Engine) Unsubscribe(ctx context.Context, recipient int64, args []string) Result {
	reg := e.state.Registry
	teams := SplitArgs(args)
	if len(teams) == 0 {
		out, err := reg.UnsubscribeAll(ctx, recipient)
		if out == NotSubscribed {
			return Result{Success: false, Message: "You are not subscribed to all events."}
		}
		return withWarning(Result{Success: true, Message: "Unsubscribed from all events."}, err)
	}

	var lines []string
	success := true
	var perr error
	for _, raw := range teams {
		name, err := e.resolveTeam(ctx, raw)
		if err != nil {
			lines = append(lines, "Could not look up team "+esc(raw)+".")
			success = false
			continue
		}
		out, err := reg.UnsubscribeTeam(ctx, recipient, name)
		if err != nil && perr == nil {
			perr = err
		}
		if out == OK {
			lines = append(lines, "Unsubscribed from team "+esc(FoldTeam(name))+".")
			continue
		}
		lines = append(lines, "You are not subscribed to team "+esc(FoldTeam(name))+".")
		success = false
	}
	return withWarning(Result{Success: success, Message: strings.Join(lines, "\n")}, perr)
}

func (e *Engine) UnsubscribeAllTeams(ctx context.Context, recipient int64) Result {
	out, err := e.state.Registry.UnsubscribeAllTeams(ctx, recipient)
	if out == EmptyToBegin {
		return Result{Success: false, Message: "You have no team subscriptions."}
	}
	return withWarning(Result{Success: true, Message: "Unsubscribed from all teams."}, err)
}

func (e *Engine) ListSubscriptions(recipient int64) Result {
	all, teams := e.state.Registry.List(recipient)
	var b strings.Builder
	if all {
		b.WriteString("You are subscribed to all events.")
	} else {
		b.WriteString("You are not subscribed to all events.")
	}
	if len(teams) == 0 {
		b.WriteString("\nNo team subscriptions.")
	} else {
		b.WriteString("\nTeams: " + esc(strings.Join(teams, ", ")))
	}
	return Result{Success: true, Message: b.String()}
}

// Upcoming lists the next events within the upcoming window, rendered in the
// given UTC offset. The message is HTML.
func (e *Engine) Upcoming(ctx context.Context, offsetHours int) Result {
	cfg := e.Config()
	now := e.clock.Now()
	events, err := e.source.FetchUpcoming(ctx, cfg.UpcomingLimit, now, now.Add(cfg.UpcomingWindow))
	if err != nil {
		e.log.Warn("upcoming fetch failed", logx.Err(err))
		return Result{Success: false, Message: "Could not reach the event feed, try again later."}
	}
	return Result{Success: true, Message: FormatEventList("Upcoming events", events, offsetHours)}
}

// HappeningNow lists events that started within the lookback window and have
// not finished yet. The message is HTML.
func (e *Engine) HappeningNow(ctx context.Context, offsetHours int) Result {
	cfg := e.Config()
	now := e.clock.Now()
	events, err := e.source.FetchUpcoming(ctx, cfg.FetchLimit, now.Add(-cfg.NowLookback), now)
	if err != nil {
		e.log.Warn("now fetch failed", logx.Err(err))
		return Result{Success: false, Message: "Could not reach the event feed, try again later."}
	}
	var running []Event
	for _, ev := range events {
		if !now.Before(ev.Start) && now.Before(ev.Finish()) {
			running = append(running, ev)
		}
	}
	return Result{Success: true, Message: FormatEventList("Happening now", running, offsetHours)}
}

// SetTimezone parses a signed whole-hour offset such as "+7", "-3" or "0".
func (e *Engine) SetTimezone(ctx context.Context, recipient int64, raw string) Result {
	s := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "UTC"))
	off, err := strconv.Atoi(s)
	if err != nil || off < MinTimezone || off > MaxTimezone {
		return Result{Success: false, Message: fmt.Sprintf("Timezone must be a whole-hour offset between %d and +%d, e.g. +7.", MinTimezone, MaxTimezone)}
	}
	err = e.state.Registry.SetTimezone(ctx, recipient, off)
	return withWarning(Result{Success: true, Message: "Timezone set to " + ZoneName(off) + "."}, err)
}

func (e *Engine) GetTimezone(recipient int64) Result {
	off, ok := e.state.Registry.Timezone(recipient)
	if !ok {
		return Result{Success: true, Message: "Your timezone is UTC (default)."}
	}
	return Result{Success: true, Message: "Your timezone is " + ZoneName(off) + "."}
}

// TimezoneOf returns recipient's offset, 0 when unset.
func (e *Engine) TimezoneOf(recipient int64) int {
	off, _ := e.state.Registry.Timezone(recipient)
	return off
}

func esc(s string) string { return tgui.Esc(s).String() }

func withWarning(r Result, err error) Result {
	if err != nil {
		r.Message += unsavedSuffix
	}
	return r
}
