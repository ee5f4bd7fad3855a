package watch

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseEventTimestamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-05-01T12:00:00+00:00", want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{in: " 2023-12-31T23:59:59+00:00 ", want: time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)},
		{in: "2024-05-01", wantErr: true},
		{in: "", wantErr: true},
		{in: "not-a-time-at-all+00:00", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseEventTimestamp(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrParse) {
				t.Fatalf("%q: err = %v, want ErrParse", tt.in, err)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) {
			t.Fatalf("%q: got %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestUntilClampsToZero(t *testing.T) {
	t.Parallel()
	now := time.Now()
	if d := Until(now, now.Add(-time.Minute)); d != 0 {
		t.Fatalf("Until(past) = %v", d)
	}
	if d := Until(now, now.Add(time.Minute)); d != time.Minute {
		t.Fatalf("Until(future) = %v", d)
	}
}

func TestMilestoneDue(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	if DayBefore.Due(start.Add(-25*time.Hour), start) {
		t.Fatal("day milestone due too early")
	}
	if !DayBefore.Due(start.Add(-24*time.Hour), start) {
		t.Fatal("day milestone due at exactly start-24h")
	}
	if !HourBefore.Due(start.Add(-30*time.Minute), start) {
		t.Fatal("hour milestone should be due 30m before start")
	}
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()
	got := SplitArgs([]string{"Blue", "Water,", " ,", "r3kapig"})
	want := []string{"Blue Water", "r3kapig"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitArgs = %q, want %q", got, want)
	}
	if got := SplitArgs(nil); len(got) != 0 {
		t.Fatalf("SplitArgs(nil) = %q", got)
	}
}

func TestZoneName(t *testing.T) {
	t.Parallel()
	for off, want := range map[int]string{0: "UTC", 7: "UTC+7", -3: "UTC-3"} {
		if got := ZoneName(off); got != want {
			t.Fatalf("ZoneName(%d) = %q, want %q", off, got, want)
		}
	}
}

func TestLongTitlesAreCapped(t *testing.T) {
	t.Parallel()
	ev := Event{ID: 1, Title: strings.Repeat("Я", 500), Start: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), Duration: time.Hour}
	want := "<b>" + strings.Repeat("Я", maxTitleRunes) + "…</b>"
	for name, out := range map[string]string{
		"warning": FormatWarning(NoticeDay, ev, 0),
		"list":    FormatEventList("Upcoming", []Event{ev}, 0),
		"results": FormatResults(ev.Title, nil),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("%s: title not capped at %d runes:\n%s", name, maxTitleRunes, out)
		}
		if n := utf8.RuneCountInString(out); n > 2*maxTitleRunes {
			t.Errorf("%s: %d runes", name, n)
		}
	}
}
