package profiles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/unihub-app/unihub/backend/internal/models"
)

type fakeSource struct {
	profiles map[string]models.Profile
	err      error
	calls    int
}

func (f *fakeSource) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	f.calls++
	if f.err != nil {
		return models.Profile{}, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return models.Profile{}, errors.New("no such profile")
	}
	return p, nil
}

type errCache struct{}

func (errCache) Get(context.Context, string) (models.Profile, bool, error) {
	return models.Profile{}, false, errors.New("cache down")
}
func (errCache) Set(context.Context, models.Profile) error { return errors.New("cache down") }

func TestResolver_CacheHitSkipsSource(t *testing.T) {
	src := &fakeSource{profiles: map[string]models.Profile{
		"alice": {ID: "alice", Name: "Alice Chen", Handle: "achen"},
	}}
	r := NewResolver(src, NewMemory(time.Minute), slogt.New(t))
	ctx := context.Background()

	first, err := r.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	if src.calls != 1 {
		t.Fatalf("source hit %d times, want 1 (second lookup cached)", src.calls)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached profile differs (-first +second):\n%s", diff)
	}
}

func TestResolver_CacheFailureFallsThrough(t *testing.T) {
	src := &fakeSource{profiles: map[string]models.Profile{
		"alice": {ID: "alice", Name: "Alice Chen"},
	}}
	r := NewResolver(src, errCache{}, slogt.New(t))

	p, err := r.GetProfile(context.Background(), "alice")
	if err != nil {
		t.Fatalf("broken cache must not fail the lookup: %v", err)
	}
	if p.Name != "Alice Chen" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestResolver_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("profiles table unreachable")}
	r := NewResolver(src, NewMemory(time.Minute), slogt.New(t))

	if _, err := r.GetProfile(context.Background(), "ghost"); err == nil {
		t.Fatal("source failure must surface")
	}
}

func TestMemory_EntriesExpire(t *testing.T) {
	m := NewMemory(10 * time.Minute)
	clock := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	if err := m.Set(ctx, models.Profile{ID: "alice", Name: "Alice Chen"}); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(5 * time.Minute)
	if _, ok, _ := m.Get(ctx, "alice"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	clock = clock.Add(6 * time.Minute)
	if _, ok, _ := m.Get(ctx, "alice"); ok {
		t.Fatal("entry served past its TTL")
	}
}
