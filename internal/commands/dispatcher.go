package commands

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"strings"
	"time"

	"ctfwatch/internal/runtime/supervisor"
	"ctfwatch/internal/storage"
	"ctfwatch/internal/transport"
	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"
)

// Engine is the subset of *watch.Engine the commands need.
type Engine interface {
	Subscribe(ctx context.Context, recipient int64, args []string) watch.Result
	Unsubscribe(ctx context.Context, recipient int64, args []string) watch.Result
	UnsubscribeAllTeams(ctx context.Context, recipient int64) watch.Result
	ListSubscriptions(recipient int64) watch.Result
	Upcoming(ctx context.Context, offsetHours int) watch.Result
	HappeningNow(ctx context.Context, offsetHours int) watch.Result
	SetTimezone(ctx context.Context, recipient int64, raw string) watch.Result
	GetTimezone(recipient int64) watch.Result
	TimezoneOf(recipient int64) int
}

// Auditor records state-changing commands.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Options struct {
	Workers int
	Queue   int
	Timeout time.Duration
	Menu    transport.CommandMenuUpdater
	Now     func() time.Time

	// BotUsername is this bot's handle without '@'. Commands mentioning a
	// different bot are ignored; empty accepts every mention.
	BotUsername string
}

// Request is one parsed command.
type Request struct {
	Message *transport.Message
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

type command struct {
	name    string
	aliases []string
	usage   string
	desc    string
	hidden  bool
	handler HandlerFunc
}

type job struct {
	h   HandlerFunc
	req *Request
}

type Dispatcher struct {
	log     logx.Logger
	eng     Engine
	reply   watch.Notifier
	audit   Auditor
	menu    transport.CommandMenuUpdater
	now     func() time.Time
	self    string
	workers int
	timeout time.Duration

	cmds   []*command
	byName map[string]*command
	jobs   chan job
}

func New(eng Engine, reply watch.Notifier, audit Auditor, log logx.Logger, opt Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.NumCPU()
		if opt.Workers < 2 {
			opt.Workers = 2
		}
	}
	if opt.Queue <= 0 {
		opt.Queue = 256
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	d := &Dispatcher{
		log:     log.With(logx.String("comp", "commands")),
		eng:     eng,
		reply:   reply,
		audit:   audit,
		menu:    opt.Menu,
		now:     opt.Now,
		self:    strings.TrimPrefix(strings.TrimSpace(opt.BotUsername), "@"),
		workers: opt.Workers,
		timeout: opt.Timeout,
		byName:  map[string]*command{},
		jobs:    make(chan job, opt.Queue),
	}
	d.register()
	return d
}

func (d *Dispatcher) add(c *command) {
	d.cmds = append(d.cmds, c)
	d.byName[c.name] = c
	for _, a := range c.aliases {
		d.byName[a] = c
	}
}

// Run consumes updates until ctx is done or updates is closed. Handlers run
// on a fixed worker pool; a full queue answers "busy" instead of blocking.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(d.log))
	for i := 0; i < d.workers; i++ {
		sup.GoRestart("commands.worker", func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case j := <-d.jobs:
					_ = j.h(c, j.req)
				}
			}
		}, supervisor.WithStopOnCleanExit(true))
	}

	d.log.Info("dispatcher started", logx.Int("workers", d.workers))
	defer d.log.Info("dispatcher stopped")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u, ok := <-updates:
			if !ok {
				break loop
			}
			if u.Message == nil {
				continue
			}
			h, req, found := d.prepare(u.Message)
			if !found {
				continue
			}
			select {
			case d.jobs <- job{h: h, req: req}:
			default:
				req.Logger.Warn("command queue full")
				_ = d.reply.Send(ctx, req.Message.ChatID, "Busy, try again in a moment.")
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sup.Stop(stopCtx)
}

// Handle runs one message synchronously.
func (d *Dispatcher) Handle(ctx context.Context, msg *transport.Message) error {
	h, req, ok := d.prepare(msg)
	if !ok {
		return nil
	}
	return h(ctx, req)
}

func (d *Dispatcher) prepare(msg *transport.Message) (HandlerFunc, *Request, bool) {
	name, mention, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil, nil, false
	}
	if mention != "" && d.self != "" && !strings.EqualFold(mention, d.self) {
		return nil, nil, false
	}
	rid := newReqID()
	req := &Request{
		Message: msg,
		Command: name,
		Args:    args,
		ReqID:   rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.String("cmd", name),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("user_id", msg.FromID),
		),
	}
	c, found := d.byName[name]
	var h HandlerFunc
	if found {
		h = c.handler
	} else {
		h = d.unknown
	}
	return Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(d.timeout)), req, true
}

func (d *Dispatcher) unknown(ctx context.Context, req *Request) error {
	// Group chats see every bot's commands; stay quiet there.
	if req.Message.IsGroup {
		return nil
	}
	return d.send(ctx, req, "Unknown command. Try /help.")
}

func (d *Dispatcher) send(ctx context.Context, req *Request, text string) error {
	return d.reply.Send(ctx, req.Message.ChatID, text)
}

func (d *Dispatcher) record(ctx context.Context, req *Request, action, target string, ok bool) {
	if d.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:       d.now().UTC(),
		ChatID:   req.Message.ChatID,
		Username: req.Message.FromUsername,
		Action:   action,
		Target:   target,
		OK:       ok,
	}
	if err := d.audit.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

// Menu returns the visible commands sorted by name.
func (d *Dispatcher) Menu() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(d.cmds))
	for _, c := range d.cmds {
		if c.hidden {
			continue
		}
		name := sanitizeCommand(c.name)
		if name == "" {
			continue
		}
		desc := strings.TrimSpace(c.desc)
		if desc == "" {
			desc = name
		}
		out = append(out, transport.BotCommand{Command: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// SyncMenu pushes Menu to the chat platform when supported.
func (d *Dispatcher) SyncMenu(ctx context.Context) error {
	if d.menu == nil {
		return nil
	}
	if err := d.menu.UpdateMenuCommands(ctx, d.Menu()); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		d.log.Warn("menu update failed", logx.Err(err))
		return err
	}
	return nil
}
