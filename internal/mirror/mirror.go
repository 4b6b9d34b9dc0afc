// Package mirror holds the client-side copy of the clients collection. It is
// the single writer of that copy: consumers read snapshots and filtered views,
// never the underlying slice. Consistency comes from full refetch-and-replace
// rather than incremental diffs, so no merge logic exists anywhere.
package mirror

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"aqardesk/sync/internal/store"
)

// Fetcher loads the full remote collection, newest first.
type Fetcher interface {
	ListClients(ctx context.Context) ([]store.Client, error)
}

// Remote performs writes against the persistent store.
type Remote interface {
	InsertClient(ctx context.Context, item store.Client) error
	DeleteClients(ctx context.Context, ids []string) error
}

type Store struct {
	fetcher Fetcher
	remote  Remote

	mu         sync.RWMutex
	clients    []store.Client
	watchers   map[int]func()
	nextWatch  int
	closed     bool
	appliedSeq uint64

	resyncSeq atomic.Uint64
}

func New(fetcher Fetcher, remote Remote) *Store {
	return &Store{
		fetcher:  fetcher,
		remote:   remote,
		watchers: make(map[int]func()),
	}
}

// SetAll replaces the entire local collection. Used at cold start and by
// Resync after every feed signal.
func (s *Store) SetAll(records []store.Client) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.clients = append([]store.Client(nil), records...)
	notify := s.watcherList()
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// Snapshot returns a copy of the current collection.
func (s *Store) Snapshot() []store.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Client(nil), s.clients...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Add performs the remote insert only. Local state is deliberately not
// touched here; it updates when the resulting feed signal triggers a resync.
func (s *Store) Add(ctx context.Context, draft store.Client) error {
	if err := s.remote.InsertClient(ctx, draft); err != nil {
		return fmt.Errorf("add client: %w", err)
	}
	return nil
}

// Remove deletes remotely, then prunes matching entries locally as an
// optimistic update. The feed-triggered resync confirms the final state.
func (s *Store) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.remote.DeleteClients(ctx, ids); err != nil {
		return fmt.Errorf("remove clients: %w", err)
	}

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	kept := s.clients[:0]
	for _, item := range s.clients {
		if _, gone := removed[item.ID]; !gone {
			kept = append(kept, item)
		}
	}
	s.clients = kept
	notify := s.watcherList()
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Resync refetches the whole collection and atomically replaces local state.
// Every call is tagged with a monotonic sequence number taken before the
// fetch; a completion whose sequence is not newer than the last applied one
// is discarded, so a slow fetch can never overwrite the result of a faster,
// later-triggered one. A failed fetch leaves the previous snapshot in place
// (stale but valid) and is not retried.
func (s *Store) Resync(ctx context.Context) error {
	seq := s.resyncSeq.Add(1)

	records, err := s.fetcher.ListClients(ctx)
	if err != nil {
		log.Printf("mirror: resync fetch failed, keeping previous snapshot: %v", err)
		return fmt.Errorf("resync: %w", err)
	}

	s.mu.Lock()
	if s.closed || seq <= s.appliedSeq {
		s.mu.Unlock()
		return nil
	}
	s.appliedSeq = seq
	s.clients = records
	notify := s.watcherList()
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Watch registers fn to run after every applied state change. The returned
// func cancels the registration.
func (s *Store) Watch(fn func()) func() {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close stops the store from applying further updates. Resyncs already in
// flight complete their fetch but their results are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.watchers = make(map[int]func())
	s.mu.Unlock()
}

// must be called with s.mu held
func (s *Store) watcherList() []func() {
	list := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		list = append(list, fn)
	}
	return list
}

// View describes a filtered projection of the collection.
type View struct {
	Query      string
	Status     store.ClientStatus
	AssignedTo string
}

// FilteredView derives a read-only projection: free-text match across name,
// phone, email, project, campaign and city, optional status and owner
// filters. Order is creation time descending, matching the remote fetch.
func (s *Store) FilteredView(v View) []store.Client {
	query := strings.ToLower(strings.TrimSpace(v.Query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]store.Client, 0, len(s.clients))
	for _, item := range s.clients {
		if v.Status != "" && item.Status != v.Status {
			continue
		}
		if v.AssignedTo != "" && (item.AssignedTo == nil || *item.AssignedTo != v.AssignedTo) {
			continue
		}
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		matched = append(matched, item)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

func matchesQuery(item store.Client, query string) bool {
	for _, field := range []string{item.Name, item.Phone, item.Email, item.Project, item.Campaign, item.City} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
