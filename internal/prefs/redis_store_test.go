package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestGetReturnsZeroStateForNewViewer(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	state, err := store.Get(context.Background(), "viewer-1", "https://example.com/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(state.Expanded) != 0 || len(state.ForceVisible) != 0 {
		t.Errorf("expected zero state, got %+v", state)
	}
	if state.Expanded == nil {
		t.Error("Expanded map must be usable even for a fresh state")
	}
}

func TestSetExpandedRoundTrip(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	uri := "https://example.com/a"

	if err := store.SetExpanded(ctx, "viewer-1", uri, "ann-1", true); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}
	if err := store.SetExpanded(ctx, "viewer-1", uri, "ann-2", false); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}

	state, err := store.Get(ctx, "viewer-1", uri)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if expanded, ok := state.Expanded["ann-1"]; !ok || !expanded {
		t.Errorf("expected ann-1 expanded, got %+v", state.Expanded)
	}
	if expanded, ok := state.Expanded["ann-2"]; !ok || expanded {
		t.Errorf("expected ann-2 collapsed, got %+v", state.Expanded)
	}
}

func TestAddForceVisibleIsIdempotent(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	uri := "https://example.com/a"

	for i := 0; i < 3; i++ {
		if err := store.AddForceVisible(ctx, "viewer-1", uri, "ann-1"); err != nil {
			t.Fatalf("AddForceVisible failed: %v", err)
		}
	}

	state, err := store.Get(ctx, "viewer-1", uri)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(state.ForceVisible) != 1 || state.ForceVisible[0] != "ann-1" {
		t.Errorf("expected single force-visible entry, got %v", state.ForceVisible)
	}
}

func TestViewStateExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	uri := "https://example.com/a"

	if err := store.SetExpanded(ctx, "viewer-1", uri, "ann-1", true); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	state, err := store.Get(ctx, "viewer-1", uri)
	if err != nil {
		t.Fatalf("Get after expiry failed: %v", err)
	}
	if len(state.Expanded) != 0 {
		t.Errorf("expected expired state to read as zero state, got %+v", state)
	}
}

func TestViewStateIsolationAcrossViewersAndURIs(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.SetExpanded(ctx, "viewer-1", "https://a", "ann-1", true); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}
	if err := store.SetExpanded(ctx, "viewer-2", "https://a", "ann-2", true); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}
	if err := store.SetExpanded(ctx, "viewer-1", "https://b", "ann-3", true); err != nil {
		t.Fatalf("SetExpanded failed: %v", err)
	}

	state, err := store.Get(ctx, "viewer-1", "https://a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(state.Expanded) != 1 || !state.Expanded["ann-1"] {
		t.Errorf("viewer-1/https://a state leaked, got %+v", state.Expanded)
	}
}

func TestClearDropsState(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	uri := "https://example.com/a"

	if err := store.AddForceVisible(ctx, "viewer-1", uri, "ann-1"); err != nil {
		t.Fatalf("AddForceVisible failed: %v", err)
	}
	if err := store.Clear(ctx, "viewer-1", uri); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	state, err := store.Get(ctx, "viewer-1", uri)
	if err != nil {
		t.Fatalf("Get after clear failed: %v", err)
	}
	if len(state.ForceVisible) != 0 {
		t.Errorf("expected cleared state, got %v", state.ForceVisible)
	}
}
