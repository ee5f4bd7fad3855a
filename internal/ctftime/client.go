package ctftime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"
)

const (
	DefaultBaseURL   = "https://ctftime.org"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) ctfwatch"

	maxBody = 4 << 20
)

// Config configures the client. Zero values select defaults.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RatePerSec      float64
	UserAgent       string
	RosterCacheTTL  time.Duration
	RosterCacheSize int
}

// Client implements watch.EventSource and watch.TeamResolver.
type Client struct {
	base    string
	ua      string
	http    *http.Client
	limiter *rate.Limiter
	rosters *expirable.LRU[int64, []string]
	log     logx.Logger
}

var (
	_ watch.EventSource  = (*Client)(nil)
	_ watch.TeamResolver = (*Client)(nil)
)

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RosterCacheTTL <= 0 {
		cfg.RosterCacheTTL = 10 * time.Minute
	}
	if cfg.RosterCacheSize <= 0 {
		cfg.RosterCacheSize = 256
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		ua:      cfg.UserAgent,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		rosters: expirable.NewLRU[int64, []string](cfg.RosterCacheSize, nil, cfg.RosterCacheTTL),
		log:     log.With(logx.String("comp", "ctftime")),
	}
}

// get performs a rate-limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &watch.FetchError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &watch.FetchError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &watch.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &watch.FetchError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.Debug("request done", logx.String("op", op), logx.String("path", path),
		logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
	if resp.StatusCode != http.StatusOK {
		return nil, &watch.FetchError{Op: op, Err: &StatusError{Code: resp.StatusCode, Body: truncate(body, 200)}}
	}
	return body, nil
}

// StatusError is a non-200 upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type apiEvent struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	CTFTimeURL string  `json:"ctftime_url"`
	Start      string  `json:"start"`
	Finish     string  `json:"finish"`
	Weight     float64 `json:"weight"`
	Format     string  `json:"format"`
	Onsite     bool    `json:"onsite"`
	Duration   struct {
		Hours int `json:"hours"`
		Days  int `json:"days"`
	} `json:"duration"`
}

func (a apiEvent) toEvent() (watch.Event, error) {
	start, err := watch.ParseEventTimestamp(a.Start)
	if err != nil {
		return watch.Event{}, err
	}
	dur := time.Duration(a.Duration.Days)*24*time.Hour + time.Duration(a.Duration.Hours)*time.Hour
	if finish, ferr := watch.ParseEventTimestamp(a.Finish); ferr == nil && finish.After(start) {
		dur = finish.Sub(start)
	}
	return watch.Event{
		ID:         a.ID,
		Title:      strings.TrimSpace(a.Title),
		URL:        strings.TrimSpace(a.URL),
		CTFTimeURL: strings.TrimSpace(a.CTFTimeURL),
		Start:      start,
		Duration:   dur,
		Weight:     a.Weight,
		Format:     a.Format,
		Onsite:     a.Onsite,
	}, nil
}

// FetchUpcoming lists online events starting at or after since. Onsite
// events are dropped and malformed ones skipped.
func (c *Client) FetchUpcoming(ctx context.Context, limit int, since, until time.Time) ([]watch.Event, error) {
	if until.IsZero() {
		until = since.Add(365 * 24 * time.Hour)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", strconv.FormatInt(since.Unix(), 10))
	q.Set("finish", strconv.FormatInt(until.Unix(), 10))

	body, err := c.get(ctx, "events", "/api/v1/events/", q)
	if err != nil {
		return nil, err
	}
	var raw []apiEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &watch.FetchError{Op: "events", Err: fmt.Errorf("decode: %w", err)}
	}
	out := make([]watch.Event, 0, len(raw))
	for _, a := range raw {
		if a.Onsite {
			continue
		}
		ev, err := a.toEvent()
		if err != nil {
			c.log.Warn("skipping malformed event", logx.Int64("event_id", a.ID), logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// TeamName resolves a numeric team id.
func (c *Client) TeamName(ctx context.Context, teamID int64) (string, error) {
	body, err := c.get(ctx, "team", "/api/v1/teams/"+strconv.FormatInt(teamID, 10)+"/", nil)
	if err != nil {
		return "", err
	}
	var t struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return "", &watch.FetchError{Op: "team", Err: fmt.Errorf("decode: %w", err)}
	}
	if t.ID != teamID || strings.TrimSpace(t.Name) == "" {
		return "", &watch.FetchError{Op: "team", Err: fmt.Errorf("unexpected team %d %q", t.ID, t.Name)}
	}
	return strings.TrimSpace(t.Name), nil
}

// FetchParticipants returns the event roster, lowercased. Rosters are cached
// briefly since every fired alarm asks for one.
func (c *Client) FetchParticipants(ctx context.Context, eventID int64) ([]string, error) {
	if r, ok := c.rosters.Get(eventID); ok {
		return append([]string(nil), r...), nil
	}
	page, err := c.eventPage(ctx, "roster", eventID)
	if err != nil {
		return nil, err
	}
	roster, err := parseRoster(page)
	if err != nil {
		return nil, &watch.FetchError{Op: "roster", Err: err}
	}
	c.rosters.Add(eventID, roster)
	return append([]string(nil), roster...), nil
}

// FetchScoreboard returns the results table and the page title. An event
// without results yields an empty slice.
func (c *Client) FetchScoreboard(ctx context.Context, eventID int64) ([]watch.TeamScore, string, error) {
	page, err := c.eventPage(ctx, "scoreboard", eventID)
	if err != nil {
		return nil, "", err
	}
	scores, title, err := parseScoreboard(page)
	if err != nil {
		return nil, "", &watch.FetchError{Op: "scoreboard", Err: err}
	}
	return scores, title, nil
}

func (c *Client) eventPage(ctx context.Context, op string, eventID int64) ([]byte, error) {
	return c.get(ctx, op, "/event/"+strconv.FormatInt(eventID, 10), nil)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
