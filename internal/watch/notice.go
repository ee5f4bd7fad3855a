package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ctfwatch/pkg/tgui"
)

// Notice is the kind of message the engine sends.
type Notice string

const (
	NoticeDay     Notice = "day"
	NoticeHour    Notice = "hour"
	NoticeStarted Notice = "started"
	NoticeResults Notice = "results"
)

const (
	MinTimezone = -12
	MaxTimezone = 14
)

// maxTitleRunes caps event titles in rendered messages.
const maxTitleRunes = 120

func shortTitle(title string) string { return tgui.TruncRunes(title, maxTitleRunes) }

// Zone returns a fixed zone for a whole-hour UTC offset.
func Zone(offsetHours int) *time.Location {
	return time.FixedZone(ZoneName(offsetHours), offsetHours*3600)
}

// ZoneName renders an offset as "UTC", "UTC+7" or "UTC-3".
func ZoneName(offsetHours int) string {
	switch {
	case offsetHours == 0:
		return "UTC"
	case offsetHours > 0:
		return "UTC+" + strconv.Itoa(offsetHours)
	default:
		return "UTC" + strconv.Itoa(offsetHours)
	}
}

const timeLayout = "Mon 02 Jan 15:04"

func formatWhen(t time.Time, offsetHours int) string {
	return t.In(Zone(offsetHours)).Format(timeLayout) + " " + ZoneName(offsetHours)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	d = d.Round(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	mins := int((d - time.Duration(hours)*time.Hour) / time.Minute)
	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	return strings.Join(parts, " ")
}

func eventDetails(ev Event, offsetHours int) tgui.H {
	lines := []tgui.H{
		tgui.Esc("Start: " + formatWhen(ev.Start, offsetHours)),
	}
	if ev.Duration > 0 {
		lines = append(lines, tgui.Esc("Duration: "+formatDuration(ev.Duration)))
	}
	meta := make([]string, 0, 2)
	if ev.Format != "" {
		meta = append(meta, "Format: "+ev.Format)
	}
	if ev.Weight > 0 {
		meta = append(meta, "Weight: "+strconv.FormatFloat(ev.Weight, 'f', 2, 64))
	}
	if len(meta) > 0 {
		lines = append(lines, tgui.Esc(strings.Join(meta, " · ")))
	}
	if link := ev.Link(); link != "" {
		lines = append(lines, tgui.Link(link, link))
	}
	return tgui.Lines(lines...)
}

// FormatWarning renders a pre-event notice. Titles are escaped; the link is
// shown in full so it survives clients that strip anchors.
func FormatWarning(kind Notice, ev Event, offsetHours int) string {
	var head string
	switch kind {
	case NoticeHour:
		head = "⏰ " + tgui.B(shortTitle(ev.Title)).String() + " starts in 1 hour"
	case NoticeStarted:
		head = "🚩 " + tgui.B(shortTitle(ev.Title)).String() + " has started already"
	default:
		head = "📅 " + tgui.B(shortTitle(ev.Title)).String() + " starts in 1 day"
	}
	return tgui.Lines(tgui.H(head), eventDetails(ev, offsetHours)).String()
}

// FormatResults renders the results notice for the teams a recipient follows.
func FormatResults(title string, scores []TeamScore) string {
	lines := []tgui.H{tgui.H("🏁 Results for " + tgui.B(shortTitle(title)).String())}
	for _, s := range scores {
		lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s: %s pts, rating %s",
			s.Place, s.Team,
			strconv.FormatFloat(s.Points, 'f', -1, 64),
			strconv.FormatFloat(s.Rating, 'f', 3, 64))))
	}
	return tgui.Lines(lines...).String()
}

// FormatEventList renders events for /upcoming and /now.
func FormatEventList(header string, events []Event, offsetHours int) string {
	if len(events) == 0 {
		return tgui.Esc(header + ": nothing found.").String()
	}
	blocks := []string{tgui.B(header).String()}
	for _, ev := range events {
		blocks = append(blocks, tgui.Lines(tgui.B(shortTitle(ev.Title)), eventDetails(ev, offsetHours)).String())
	}
	return strings.Join(blocks, "\n\n")
}
