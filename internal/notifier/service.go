package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/transport"
	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"
	"ctfwatch/pkg/tgui"
)

var ErrNoAdapter = errors.New("notifier has no adapter")

// Service sends HTML messages through a transport.Adapter.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

var _ watch.Notifier = (*Service)(nil)

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text (Telegram HTML) to chatID. Errors wrap watch.ErrDelivery.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil {
		return fmt.Errorf("%w: %v", watch.ErrDelivery, ErrNoAdapter)
	}
	if text == "" {
		return nil
	}
	opt := &transport.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true}
	target := transport.ChatTarget{ChatID: chatID}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempts := 0
retry:
	for attempts < maxAttempts {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		attempts++

		// Bound per-send call.
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := ad.SendText(callCtx, target, text, opt)
		cancel()
		if err == nil {
			s.appendHistory(chatID, text)
			now := time.Now()
			s.bus.Publish(eventbus.Event{Type: TopicSent, Time: now, Data: NotificationEvent{ChatID: chatID, Attempts: attempts, At: now}})
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Int64("chat_id", chatID), logx.Err(err), logx.Int("attempt", attempts), logx.Int("max", maxAttempts))

		if errors.Is(err, transport.ErrPermanent) || attempts >= maxAttempts {
			break
		}
		s.bus.Publish(eventbus.Event{Type: TopicRetry, Data: NotificationEvent{ChatID: chatID, Attempts: attempts, At: time.Now(), Error: err.Error()}})

		delay := max(retryDelay(cfg, attempts), transport.RetryAfter(err))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break retry
		}
	}

	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: TopicFailed, Time: now, Data: NotificationEvent{ChatID: chatID, Attempts: attempts, At: now, Error: lastErr.Error()}})
	return fmt.Errorf("%w: chat %d after %d attempt(s): %v", watch.ErrDelivery, chatID, attempts, lastErr)
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(chatID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, maxD)
}
