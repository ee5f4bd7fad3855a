package watch

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"ctfwatch/internal/storage"
	logx "ctfwatch/pkg/logx"
)

func newRegistry(t *testing.T, store *storage.Memory) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), store, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSubscribeAllTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t, storage.NewMemory())

	if out, err := r.SubscribeAll(ctx, 1); out != OK || err != nil {
		t.Fatalf("first = %v, %v", out, err)
	}
	if out, _ := r.SubscribeAll(ctx, 1); out != AlreadySubscribed {
		t.Fatalf("second = %v, want AlreadySubscribed", out)
	}
	if all, _ := r.Count(); all != 1 {
		t.Fatalf("count = %d, want 1", all)
	}
}

func TestRegistryOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t, storage.NewMemory())

	tests := []struct {
		name string
		op   func() (Outcome, error)
		want Outcome
	}{
		{"unsubscribe all when absent", func() (Outcome, error) { return r.UnsubscribeAll(ctx, 5) }, NotSubscribed},
		{"subscribe team", func() (Outcome, error) { return r.SubscribeTeam(ctx, 5, "Shellphish") }, OK},
		{"subscribe team folded", func() (Outcome, error) { return r.SubscribeTeam(ctx, 5, "  SHELLPHISH ") }, AlreadySubscribed},
		{"unsubscribe missing team", func() (Outcome, error) { return r.UnsubscribeTeam(ctx, 5, "dragon sector") }, NotSubscribed},
		{"unsubscribe team", func() (Outcome, error) { return r.UnsubscribeTeam(ctx, 5, "shellphish") }, OK},
		{"unsubscribe all teams when empty", func() (Outcome, error) { return r.UnsubscribeAllTeams(ctx, 5) }, EmptyToBegin},
	}
	for _, tt := range tests {
		got, err := tt.op()
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUnsubscribeMissingTeamLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	r := newRegistry(t, store)
	_, _ = r.SubscribeTeam(ctx, 9, "perfect blue")
	_, _ = r.SubscribeAll(ctx, 9)

	before, _ := store.LoadSubscriptions(ctx)
	snapBefore := r.Snapshot()
	if out, _ := r.UnsubscribeTeam(ctx, 9, "organizers"); out != NotSubscribed {
		t.Fatalf("outcome = %v", out)
	}
	after, _ := store.LoadSubscriptions(ctx)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("persisted state changed: %+v -> %+v", before, after)
	}
	if !reflect.DeepEqual(snapBefore, r.Snapshot()) {
		t.Fatal("in-memory state changed")
	}
}

func TestAllAndTeamsAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t, storage.NewMemory())
	_, _ = r.SubscribeAll(ctx, 2)
	_, _ = r.SubscribeTeam(ctx, 2, "b")
	_, _ = r.SubscribeTeam(ctx, 2, "a")

	_, _ = r.UnsubscribeAll(ctx, 2)
	all, teams := r.List(2)
	if all || !reflect.DeepEqual(teams, []string{"b", "a"}) {
		t.Fatalf("List = %v %v", all, teams)
	}

	_, _ = r.SubscribeAll(ctx, 2)
	_, _ = r.UnsubscribeAllTeams(ctx, 2)
	all, teams = r.List(2)
	if !all || len(teams) != 0 {
		t.Fatalf("List = %v %v", all, teams)
	}
}

func TestTeamsOfUnknownRecipientIsEmpty(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, storage.NewMemory())
	all, got := r.List(404)
	if all || got == nil || len(got) != 0 {
		t.Fatalf("List = %v %#v, want false and empty non-nil", all, got)
	}
}

func TestRecipientsDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry(t, storage.NewMemory())
	_, _ = r.SubscribeAll(ctx, 1)
	_, _ = r.SubscribeTeam(ctx, 1, "pasten")
	_, _ = r.SubscribeTeam(ctx, 2, "PASTEN")
	_, _ = r.SubscribeTeam(ctx, 3, "other")

	got := r.Recipients([]string{"pasten", "Dice Gang"})
	if !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("Recipients = %v, want [1 2]", got)
	}
	if got := r.Recipients(nil); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("Recipients(nil) = %v, want [1]", got)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	r := newRegistry(t, store)
	_, _ = r.SubscribeAll(ctx, 1)
	_, _ = r.SubscribeAll(ctx, 2)
	_, _ = r.SubscribeTeam(ctx, 2, "kalmarunionen")
	_, _ = r.SubscribeTeam(ctx, 3, "blue water")
	_ = r.SetTimezone(ctx, 3, 7)

	again := newRegistry(t, store)
	if !reflect.DeepEqual(r.Snapshot(), again.Snapshot()) {
		t.Fatalf("reloaded %+v, want %+v", again.Snapshot(), r.Snapshot())
	}
	if off, ok := again.Timezone(3); !ok || off != 7 {
		t.Fatalf("Timezone = %d %v", off, ok)
	}
}

func TestRegistryPersistFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	r := newRegistry(t, store)
	store.Fail = errors.New("read-only fs")

	out, err := r.SubscribeAll(ctx, 1)
	if out != OK || !errors.Is(err, ErrPersist) {
		t.Fatalf("SubscribeAll = %v, %v", out, err)
	}
	if all, _ := r.List(1); !all {
		t.Fatal("in-memory subscription must stand")
	}
}
