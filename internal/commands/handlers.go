package commands

import (
	"context"
	"strings"

	"ctfwatch/pkg/tgui"
)

func (d *Dispatcher) register() {
	d.add(&command{name: "start", hidden: true, handler: d.cmdStart})
	d.add(&command{name: "help", desc: "Show available commands", handler: d.cmdHelp})
	d.add(&command{
		name:    "subscribe",
		usage:   "/subscribe [team, #id, ...]",
		desc:    "Get warnings for all events or for your teams",
		handler: d.cmdSubscribe,
	})
	d.add(&command{
		name:    "unsubscribe",
		usage:   "/unsubscribe [team, #id, ...]",
		desc:    "Stop warnings for all events or for a team",
		handler: d.cmdUnsubscribe,
	})
	d.add(&command{
		name:    "unsubscribe_teams",
		aliases: []string{"unsubscribeteams"},
		desc:    "Drop every team subscription",
		handler: d.cmdUnsubscribeTeams,
	})
	d.add(&command{
		name:    "subscriptions",
		aliases: []string{"list"},
		desc:    "Show what you are subscribed to",
		handler: d.cmdSubscriptions,
	})
	d.add(&command{name: "upcoming", desc: "Events starting this week", handler: d.cmdUpcoming})
	d.add(&command{name: "now", aliases: []string{"current"}, desc: "Events running right now", handler: d.cmdNow})
	d.add(&command{
		name:    "timezone",
		aliases: []string{"tz"},
		usage:   "/timezone [+7 | UTC-3]",
		desc:    "Show or set your timezone",
		handler: d.cmdTimezone,
	})
}

func (d *Dispatcher) cmdStart(ctx context.Context, req *Request) error {
	text := tgui.Lines(
		tgui.B("ctfwatch"),
		tgui.Esc("I send a reminder one day and one hour before a CTF starts, and post the results when it ends."),
		"",
		d.helpText(),
	)
	return d.send(ctx, req, text.String())
}

func (d *Dispatcher) cmdHelp(ctx context.Context, req *Request) error {
	return d.send(ctx, req, d.helpText().String())
}

func (d *Dispatcher) helpText() tgui.H {
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range d.cmds {
		if c.hidden {
			continue
		}
		usage := c.usage
		if usage == "" {
			usage = "/" + c.name
		}
		lines = append(lines, tgui.Code(usage)+tgui.Esc(" - "+c.desc))
	}
	return tgui.Lines(lines...)
}

func (d *Dispatcher) cmdSubscribe(ctx context.Context, req *Request) error {
	res := d.eng.Subscribe(ctx, req.Message.ChatID, req.Args)
	d.record(ctx, req, "subscribe", target(req.Args), res.Success)
	return d.send(ctx, req, res.Message)
}

func (d *Dispatcher) cmdUnsubscribe(ctx context.Context, req *Request) error {
	res := d.eng.Unsubscribe(ctx, req.Message.ChatID, req.Args)
	d.record(ctx, req, "unsubscribe", target(req.Args), res.Success)
	return d.send(ctx, req, res.Message)
}

func (d *Dispatcher) cmdUnsubscribeTeams(ctx context.Context, req *Request) error {
	res := d.eng.UnsubscribeAllTeams(ctx, req.Message.ChatID)
	d.record(ctx, req, "unsubscribe_teams", "", res.Success)
	return d.send(ctx, req, res.Message)
}

func (d *Dispatcher) cmdSubscriptions(ctx context.Context, req *Request) error {
	return d.send(ctx, req, d.eng.ListSubscriptions(req.Message.ChatID).Message)
}

func (d *Dispatcher) cmdUpcoming(ctx context.Context, req *Request) error {
	off := d.eng.TimezoneOf(req.Message.ChatID)
	return d.send(ctx, req, d.eng.Upcoming(ctx, off).Message)
}

func (d *Dispatcher) cmdNow(ctx context.Context, req *Request) error {
	off := d.eng.TimezoneOf(req.Message.ChatID)
	return d.send(ctx, req, d.eng.HappeningNow(ctx, off).Message)
}

func (d *Dispatcher) cmdTimezone(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return d.send(ctx, req, d.eng.GetTimezone(req.Message.ChatID).Message)
	}
	raw := strings.Join(req.Args, "")
	res := d.eng.SetTimezone(ctx, req.Message.ChatID, raw)
	d.record(ctx, req, "timezone", raw, res.Success)
	return d.send(ctx, req, res.Message)
}

func target(args []string) string {
	if len(args) == 0 {
		return "all"
	}
	return strings.Join(args, " ")
}
