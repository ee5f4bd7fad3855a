package watch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ctfwatch/internal/eventbus"
	logx "ctfwatch/pkg/logx"
)

// ScoreboardWatcher polls results for every hour-warned event and delivers
// them once to recipients following a team on the scoreboard.
//
// All-events subscribers are not sent results on that basis alone.
type ScoreboardWatcher struct {
	ledger *Ledger
	reg    *Registry
	source EventSource
	out    *fanout
	log    logx.Logger
	bus    eventbus.Bus
}

// Pass polls each pending event once. Events whose finish is still ahead are
// skipped; an empty scoreboard keeps the event pending. It returns the number
// of events retired.
func (w *ScoreboardWatcher) Pass(ctx context.Context, now time.Time) int {
	retired := 0
	for _, e := range w.ledger.HourWarned() {
		if ctx.Err() != nil {
			return retired
		}
		if !e.Finish.IsZero() && now.Before(e.Finish) {
			continue
		}
		scores, title, err := w.source.FetchScoreboard(ctx, e.EventID)
		if err != nil {
			w.log.Warn("scoreboard fetch failed", logx.Int64("event_id", e.EventID), logx.Err(err))
			continue
		}
		if len(scores) == 0 {
			w.log.Debug("scoreboard not published yet", logx.Int64("event_id", e.EventID))
			continue
		}
		if title == "" {
			title = fmt.Sprintf("event #%d", e.EventID)
		}
		sent := w.deliverResults(ctx, e.EventID, title, scores)

		if ok, err := w.ledger.Retire(ctx, e.EventID); ok {
			retired++
			w.bus.Publish(eventbus.Event{Type: TopicRetired, Data: e.EventID})
			w.log.Info("event retired", logx.Int64("event_id", e.EventID), logx.Int("notified", sent), logx.Err(err))
		}
	}
	return retired
}

func (w *ScoreboardWatcher) deliverResults(ctx context.Context, eventID int64, title string, scores []TeamScore) int {
	byTeam := make(map[string]TeamScore, len(scores))
	names := make([]string, 0, len(scores))
	for _, s := range scores {
		f := FoldTeam(s.Team)
		if _, dup := byTeam[f]; dup || f == "" {
			continue
		}
		byTeam[f] = s
		names = append(names, s.Team)
	}

	matches := w.reg.TeamMatches(names)
	recipients := make([]int64, 0, len(matches))
	for r := range matches {
		recipients = append(recipients, r)
	}
	sortIDs(recipients)

	sent := 0
	for _, r := range recipients {
		picked := make([]TeamScore, 0, len(matches[r]))
		for _, team := range matches[r] {
			picked = append(picked, byTeam[team])
		}
		sort.Slice(picked, func(i, j int) bool { return picked[i].Place < picked[j].Place })
		if err := w.out.deliver(ctx, NoticeResults, eventID, r, FormatResults(title, picked)); err == nil {
			sent++
		}
	}
	return sent
}
