package ctftime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"
)

const eventsJSON = `[
 {"id": 1, "title": "Online CTF", "url": "https://online.example", "ctftime_url": "https://ctftime.org/event/1/",
  "start": "2024-05-01T12:00:00+00:00", "finish": "2024-05-03T12:00:00+00:00",
  "duration": {"hours": 0, "days": 2}, "weight": 24.5, "format": "Jeopardy", "onsite": false},
 {"id": 2, "title": "Onsite Finals", "start": "2024-05-01T12:00:00+00:00", "finish": "2024-05-02T12:00:00+00:00", "onsite": true},
 {"id": 3, "title": "Broken", "start": "garbage", "onsite": false}
]`

const eventPage = `<html><body>
<h2>Online CTF 2024</h2>
<table>
 <tr><th></th><th>Place</th><th>Team</th><th>Points</th><th>Rating</th></tr>
 <tr><td></td><td>1</td><td><a href="/team/1">Perfect Blue</a></td><td>5,000.0</td><td>24.500</td></tr>
 <tr><td></td><td>2</td><td><a href="/team/2">Shellphish</a></td><td>4000</td><td>20.100</td></tr>
 <tr><td colspan="5">spacer</td></tr>
</table>
</body></html>`

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, RatePerSec: 1000, Timeout: 2 * time.Second}, logx.Nop())
}

func TestFetchUpcoming(t *testing.T) {
	t.Parallel()
	var gotQuery atomic.Value
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events/" {
			http.NotFound(w, r)
			return
		}
		gotQuery.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(eventsJSON))
	}))

	since := time.Unix(1714564800, 0)
	events, err := c.FetchUpcoming(context.Background(), 20, since, since.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v, want only the online, well-formed one", events)
	}
	ev := events[0]
	if ev.ID != 1 || ev.Duration != 48*time.Hour || !ev.Start.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("event = %+v", ev)
	}
	if q := gotQuery.Load().(string); q != "finish=1714568400&limit=20&start=1714564800" {
		t.Fatalf("query = %q", q)
	}
}

func TestFetchUpcomingStatusError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	_, err := c.FetchUpcoming(context.Background(), 5, time.Now(), time.Time{})
	if !errors.Is(err, watch.ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("err = %v, want StatusError 502", err)
	}
}

func TestScoreboardAndRoster(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(eventPage))
	}))
	ctx := context.Background()

	scores, title, err := c.FetchScoreboard(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if title != "Online CTF 2024" {
		t.Fatalf("title = %q", title)
	}
	want := []watch.TeamScore{
		{Team: "Perfect Blue", Place: 1, Points: 5000, Rating: 24.5},
		{Team: "Shellphish", Place: 2, Points: 4000, Rating: 20.1},
	}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %+v", scores)
	}

	roster, err := c.FetchParticipants(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(roster, []string{"perfect blue", "shellphish"}) {
		t.Fatalf("roster = %q", roster)
	}
	before := hits.Load()
	if _, err := c.FetchParticipants(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != before {
		t.Fatal("roster was not served from cache")
	}
}

func TestEmptyScoreboard(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><h2>Soon CTF</h2><p>No results yet</p></html>`))
	}))
	scores, title, err := c.FetchScoreboard(context.Background(), 9)
	if err != nil || len(scores) != 0 || title != "Soon CTF" {
		t.Fatalf("got %v %q %v", scores, title, err)
	}
}

func TestTeamName(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/teams/1234/":
			_, _ = w.Write([]byte(`{"id": 1234, "name": "Dragon Sector"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()
	if name, err := c.TeamName(ctx, 1234); err != nil || name != "Dragon Sector" {
		t.Fatalf("TeamName = %q, %v", name, err)
	}
	if _, err := c.TeamName(ctx, 1); !errors.Is(err, watch.ErrFetch) {
		t.Fatalf("missing team err = %v", err)
	}
}
