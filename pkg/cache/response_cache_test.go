package cache

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	getErr  error
	sets    int
}

func newMemStore() *memStore { return &memStore{entries: map[string]Entry{}} }

func (m *memStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Entry{}, false, m.getErr
	}
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.entries[key] = e
	return nil
}

func seqOf(frags []string, err error) (iter.Seq2[string, error], *int) {
	calls := 0
	return func(yield func(string, error) bool) {
		calls++
		for _, f := range frags {
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}, &calls
}

func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for f, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func TestKeyIsDeterministic(t *testing.T) {
	type req struct {
		Query string `json:"q"`
	}
	a, err := Key("docs-search", req{"storage"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Key("docs-search", req{"storage"})
	c, _ := Key("docs-search", req{"events"})
	d, _ := Key("marketplace-search", req{"storage"})

	if a != b {
		t.Error("same input produced different keys")
	}
	if a == c || a == d {
		t.Error("different inputs collided")
	}
	if !strings.HasPrefix(a, "devkit_cache:docs-search:") {
		t.Errorf("key = %q", a)
	}
}

func TestThroughMissThenHit(t *testing.T) {
	store := newMemStore()
	rc := NewResponseCache(store, nil)
	ctx := context.Background()

	seq, calls := seqOf([]string{"a", "b"}, nil)
	got, err := collect(rc.Through(ctx, "k", seq))
	if err != nil || strings.Join(got, "") != "ab" {
		t.Fatalf("miss: got %v err %v", got, err)
	}
	if store.sets != 1 || store.entries["k"].Text != "ab" {
		t.Fatalf("store = %+v", store.entries)
	}

	got, err = collect(rc.Through(ctx, "k", seq))
	if err != nil || len(got) != 1 || got[0] != "ab" {
		t.Fatalf("hit: got %v err %v", got, err)
	}
	if *calls != 1 {
		t.Errorf("upstream called %d times, want 1", *calls)
	}
}

func TestThroughDoesNotStoreFailures(t *testing.T) {
	store := newMemStore()
	rc := NewResponseCache(store, nil)

	seq, _ := seqOf([]string{"partial"}, errors.New("boom"))
	if _, err := collect(rc.Through(context.Background(), "k", seq)); err == nil {
		t.Fatal("expected error")
	}
	if store.sets != 0 {
		t.Error("failed answer was cached")
	}
}

func TestThroughDoesNotStoreAbandonedStreams(t *testing.T) {
	store := newMemStore()
	rc := NewResponseCache(store, nil)

	seq, _ := seqOf([]string{"a", "b", "c"}, nil)
	for range rc.Through(context.Background(), "k", seq) {
		break
	}
	if store.sets != 0 {
		t.Error("partial answer was cached")
	}
}

func TestLookupErrorIsMiss(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	rc := NewResponseCache(store, nil)

	seq, calls := seqOf([]string{"x"}, nil)
	got, err := collect(rc.Through(context.Background(), "k", seq))
	if err != nil || len(got) != 1 || *calls != 1 {
		t.Errorf("got %v err %v calls %d", got, err, *calls)
	}
}
