package watch

import (
	"context"
	"errors"
	"fmt"

	"ctfwatch/internal/eventbus"
	logx "ctfwatch/pkg/logx"
)

// fanout delivers notices to every matching recipient. A failed send is
// logged and counted; the remaining recipients are still attempted.
type fanout struct {
	reg      *Registry
	source   EventSource
	notifier Notifier
	log      logx.Logger
	bus      eventbus.Bus
}

// broadcast sends a pre-event notice to all-events subscribers plus every
// recipient following a team on the event's roster. The roster is read now,
// at fire time; if it cannot be fetched only all-events subscribers are
// notified.
func (f *fanout) broadcast(ctx context.Context, kind Notice, ev Event) (sent, failed int) {
	roster, err := f.source.FetchParticipants(ctx, ev.ID)
	if err != nil {
		f.log.Warn("roster fetch failed; notifying all-events subscribers only",
			logx.Int64("event_id", ev.ID), logx.String("kind", string(kind)), logx.Err(err))
		roster = nil
	}
	for _, r := range f.reg.Recipients(roster) {
		off, _ := f.reg.Timezone(r)
		if err := f.deliver(ctx, kind, ev.ID, r, FormatWarning(kind, ev, off)); err != nil {
			failed++
			continue
		}
		sent++
	}
	f.log.Info("notice broadcast",
		logx.Int64("event_id", ev.ID), logx.String("kind", string(kind)),
		logx.Int("sent", sent), logx.Int("failed", failed))
	return sent, failed
}

func (f *fanout) deliver(ctx context.Context, kind Notice, eventID, recipient int64, text string) error {
	info := DeliveryInfo{Kind: kind, EventID: eventID, Recipient: recipient}
	if err := f.notifier.Send(ctx, recipient, text); err != nil {
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		f.log.Warn("delivery failed",
			logx.Int64("event_id", eventID), logx.Int64("recipient", recipient),
			logx.String("kind", string(kind)), logx.Err(err))
		info.Err = err.Error()
		f.bus.Publish(eventbus.Event{Type: TopicDeliveryFailed, Data: info})
		return err
	}
	f.bus.Publish(eventbus.Event{Type: TopicDelivered, Data: info})
	return nil
}
