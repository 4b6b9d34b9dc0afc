package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aqardesk/sync/internal/store"
)

type fakeFetcher struct {
	mu      sync.Mutex
	records []store.Client
	err     error
	// when set, ListClients blocks until the test releases it
	gate chan struct{}
}

func (f *fakeFetcher) ListClients(ctx context.Context) ([]store.Client, error) {
	f.mu.Lock()
	records := append([]store.Client(nil), f.records...)
	err := f.err
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeFetcher) set(records []store.Client) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

type fakeRemote struct {
	insertFn func(ctx context.Context, item store.Client) error
	deleteFn func(ctx context.Context, ids []string) error
}

func (f *fakeRemote) InsertClient(ctx context.Context, item store.Client) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, item)
	}
	return nil
}

func (f *fakeRemote) DeleteClients(ctx context.Context, ids []string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, ids)
	}
	return nil
}

func client(id, name string) store.Client {
	return store.Client{ID: id, Name: name, Status: store.StatusNew, Phone: "0100000" + id}
}

func TestSetAllReplacesSnapshot(t *testing.T) {
	s := New(&fakeFetcher{}, &fakeRemote{})
	s.SetAll([]store.Client{client("1", "Ali"), client("2", "Sara")})

	if s.Len() != 2 {
		t.Fatalf("expected 2 clients, got %d", s.Len())
	}

	s.SetAll([]store.Client{client("3", "Omar")})
	snapshot := s.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != "3" {
		t.Errorf("expected snapshot replaced with client 3, got %+v", snapshot)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(&fakeFetcher{}, &fakeRemote{})
	s.SetAll([]store.Client{client("1", "Ali")})

	snapshot := s.Snapshot()
	snapshot[0].Name = "mutated"

	if got := s.Snapshot()[0].Name; got != "Ali" {
		t.Errorf("snapshot mutation leaked into store: %s", got)
	}
}

func TestResyncReplacesState(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, &fakeRemote{})
	s.SetAll([]store.Client{client("1", "Ali")})

	fetcher.set([]store.Client{client("2", "Sara"), client("3", "Omar")})
	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 clients after resync, got %d", s.Len())
	}
}

func TestResyncFailureKeepsPreviousState(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	s := New(fetcher, &fakeRemote{})
	s.SetAll([]store.Client{client("1", "Ali")})

	if err := s.Resync(context.Background()); err == nil {
		t.Fatal("expected resync error")
	}
	if s.Len() != 1 {
		t.Errorf("failed resync must keep previous snapshot, got %d clients", s.Len())
	}
}

func TestSlowResyncCannotOverwriteNewerOne(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, &fakeRemote{})

	stale := []store.Client{client("1", "Stale")}
	fresh := []store.Client{client("2", "Fresh"), client("3", "Fresher")}

	gate := make(chan struct{})
	fetcher.set(stale)
	fetcher.mu.Lock()
	fetcher.gate = gate
	fetcher.mu.Unlock()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_ = s.Resync(context.Background())
	}()
	// Give the slow resync time to claim its sequence number.
	time.Sleep(20 * time.Millisecond)

	fetcher.mu.Lock()
	fetcher.gate = nil
	fetcher.records = fresh
	fetcher.mu.Unlock()
	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("fast resync failed: %v", err)
	}

	close(gate)
	<-slowDone

	snapshot := s.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("stale resync overwrote newer state: %+v", snapshot)
	}
	if snapshot[0].Name != "Fresh" {
		t.Errorf("expected fresh data, got %+v", snapshot[0])
	}
}

func TestAddDoesNotTouchLocalState(t *testing.T) {
	var inserted []store.Client
	remote := &fakeRemote{insertFn: func(ctx context.Context, item store.Client) error {
		inserted = append(inserted, item)
		return nil
	}}
	s := New(&fakeFetcher{}, remote)

	if err := s.Add(context.Background(), client("1", "Ali")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected remote insert, got %d", len(inserted))
	}
	if s.Len() != 0 {
		t.Errorf("Add must not update local state before the feed signal, got %d", s.Len())
	}
}

func TestRemovePrunesLocallyAfterRemoteDelete(t *testing.T) {
	var deleted []string
	remote := &fakeRemote{deleteFn: func(ctx context.Context, ids []string) error {
		deleted = append(deleted, ids...)
		return nil
	}}
	s := New(&fakeFetcher{}, remote)
	s.SetAll([]store.Client{client("1", "Ali"), client("2", "Sara"), client("3", "Omar")})

	if err := s.Remove(context.Background(), []string{"1", "3"}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 remote deletes, got %d", len(deleted))
	}
	snapshot := s.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != "2" {
		t.Errorf("expected only client 2 left, got %+v", snapshot)
	}
}

func TestRemoveFailureLeavesLocalStateAlone(t *testing.T) {
	remote := &fakeRemote{deleteFn: func(ctx context.Context, ids []string) error {
		return errors.New("delete rejected")
	}}
	s := New(&fakeFetcher{}, remote)
	s.SetAll([]store.Client{client("1", "Ali")})

	if err := s.Remove(context.Background(), []string{"1"}); err == nil {
		t.Fatal("expected remove error")
	}
	if s.Len() != 1 {
		t.Errorf("failed delete must not prune locally, got %d clients", s.Len())
	}
}

func TestWatchFiresOnAppliedChanges(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, &fakeRemote{})

	var fired int
	cancel := s.Watch(func() { fired++ })

	s.SetAll([]store.Client{client("1", "Ali")})
	if fired != 1 {
		t.Fatalf("expected watcher fired once, got %d", fired)
	}

	cancel()
	s.SetAll(nil)
	if fired != 1 {
		t.Errorf("cancelled watcher still fired: %d", fired)
	}
}

func TestCloseDiscardsInFlightResync(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, &fakeRemote{})
	s.SetAll([]store.Client{client("1", "Ali")})

	gate := make(chan struct{})
	fetcher.mu.Lock()
	fetcher.records = []store.Client{client("2", "Late")}
	fetcher.gate = gate
	fetcher.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Resync(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	s.Close()
	close(gate)
	<-done

	snapshot := s.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != "1" {
		t.Errorf("resync applied after close: %+v", snapshot)
	}
}

func TestFilteredView(t *testing.T) {
	owner := "agent-7"
	now := time.Now()
	records := []store.Client{
		{ID: "1", Name: "Ali Hassan", Status: store.StatusNew, Phone: "0100", City: "Cairo", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "2", Name: "Sara Adel", Status: store.StatusContacted, Phone: "0101", Project: "Palm Hills", AssignedTo: &owner, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "3", Name: "Omar Farouk", Status: store.StatusNew, Phone: "0102", Campaign: "summer-2026", CreatedAt: now},
	}
	s := New(&fakeFetcher{}, &fakeRemote{})
	s.SetAll(records)

	t.Run("no filter returns newest first", func(t *testing.T) {
		got := s.FilteredView(View{})
		if len(got) != 3 {
			t.Fatalf("expected 3, got %d", len(got))
		}
		if got[0].ID != "3" || got[2].ID != "1" {
			t.Errorf("expected creation-time descending order, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
		}
	})

	t.Run("free text matches across fields", func(t *testing.T) {
		for query, wantID := range map[string]string{
			"ali":    "1",
			"0101":   "2",
			"palm":   "2",
			"summer": "3",
			"cairo":  "1",
		} {
			got := s.FilteredView(View{Query: query})
			if len(got) != 1 || got[0].ID != wantID {
				t.Errorf("query %q: expected client %s, got %+v", query, wantID, got)
			}
		}
	})

	t.Run("status filter", func(t *testing.T) {
		got := s.FilteredView(View{Status: store.StatusNew})
		if len(got) != 2 {
			t.Errorf("expected 2 new clients, got %d", len(got))
		}
	})

	t.Run("assignee filter", func(t *testing.T) {
		got := s.FilteredView(View{AssignedTo: "agent-7"})
		if len(got) != 1 || got[0].ID != "2" {
			t.Errorf("expected client 2, got %+v", got)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if got := s.FilteredView(View{Query: "nothing-here"}); len(got) != 0 {
			t.Errorf("expected empty view, got %+v", got)
		}
	})
}
