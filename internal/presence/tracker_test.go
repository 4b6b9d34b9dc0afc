package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeProfiles struct {
	total int
	err   error
}

func (f *fakeProfiles) CountActiveProfiles(ctx context.Context) (int, error) {
	return f.total, f.err
}

func newTestTracker(t *testing.T, s *miniredis.Miniredis, userID string, profiles *fakeProfiles) *Tracker {
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	// Long intervals keep the background loops quiet during tests; counts are
	// driven through explicit Refresh calls.
	return NewTracker(client, "dashboard", userID, profiles, Options{
		TTL:               30 * time.Second,
		HeartbeatInterval: time.Minute,
		SnapshotInterval:  time.Minute,
	})
}

func TestJoinTransitionsToSynced(t *testing.T) {
	s := miniredis.RunT(t)
	tracker := newTestTracker(t, s, "user-1", &fakeProfiles{total: 3})
	ctx := context.Background()

	if got := tracker.State(); got != StateDisconnected {
		t.Fatalf("expected disconnected before join, got %s", got)
	}
	if err := tracker.Join(ctx); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer tracker.Leave(ctx)

	if got := tracker.State(); got != StateSynced {
		t.Errorf("expected synced after join, got %s", got)
	}
	counts := tracker.Counts()
	if counts.Online != 1 {
		t.Errorf("expected 1 online, got %d", counts.Online)
	}
	if counts.Offline != 2 {
		t.Errorf("expected 2 offline, got %d", counts.Offline)
	}
}

func TestJoinTwiceFails(t *testing.T) {
	s := miniredis.RunT(t)
	tracker := newTestTracker(t, s, "user-1", &fakeProfiles{total: 1})
	ctx := context.Background()

	if err := tracker.Join(ctx); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer tracker.Leave(ctx)

	if err := tracker.Join(ctx); err == nil {
		t.Error("expected second Join to fail")
	}
}

func TestCountsDistinctUsersNotSessions(t *testing.T) {
	s := miniredis.RunT(t)
	profiles := &fakeProfiles{total: 5}
	ctx := context.Background()

	// Same user from two tabs, a second user from one.
	first := newTestTracker(t, s, "user-1", profiles)
	second := newTestTracker(t, s, "user-1", profiles)
	third := newTestTracker(t, s, "user-2", profiles)
	for _, tracker := range []*Tracker{first, second, third} {
		if err := tracker.Join(ctx); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		defer tracker.Leave(ctx)
	}

	if err := first.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	counts := first.Counts()
	if counts.Online != 2 {
		t.Errorf("expected 2 distinct users online, got %d", counts.Online)
	}
	if counts.Offline != 3 {
		t.Errorf("expected 3 offline, got %d", counts.Offline)
	}
}

func TestOfflineClampedAtZero(t *testing.T) {
	s := miniredis.RunT(t)
	// Profile count lags behind the snapshot: two users online, one profile.
	profiles := &fakeProfiles{total: 1}
	ctx := context.Background()

	first := newTestTracker(t, s, "user-1", profiles)
	second := newTestTracker(t, s, "user-2", profiles)
	for _, tracker := range []*Tracker{first, second} {
		if err := tracker.Join(ctx); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
		defer tracker.Leave(ctx)
	}

	if err := first.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	counts := first.Counts()
	if counts.Online != 2 {
		t.Errorf("expected 2 online, got %d", counts.Online)
	}
	if counts.Offline != 0 {
		t.Errorf("expected offline clamped to 0, got %d", counts.Offline)
	}
}

func TestLeaveRemovesHeartbeat(t *testing.T) {
	s := miniredis.RunT(t)
	profiles := &fakeProfiles{total: 2}
	ctx := context.Background()

	leaving := newTestTracker(t, s, "user-1", profiles)
	staying := newTestTracker(t, s, "user-2", profiles)
	for _, tracker := range []*Tracker{leaving, staying} {
		if err := tracker.Join(ctx); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}
	defer staying.Leave(ctx)

	if err := leaving.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if got := leaving.State(); got != StateDisconnected {
		t.Errorf("expected disconnected after leave, got %s", got)
	}

	if err := staying.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if counts := staying.Counts(); counts.Online != 1 {
		t.Errorf("expected 1 online after leave, got %d", counts.Online)
	}
}

func TestStaleHeartbeatExpires(t *testing.T) {
	s := miniredis.RunT(t)
	profiles := &fakeProfiles{total: 2}
	ctx := context.Background()

	// Simulate a crashed session: joined, then vanished without Leave.
	crashed := newTestTracker(t, s, "user-1", profiles)
	observer := newTestTracker(t, s, "user-2", profiles)
	for _, tracker := range []*Tracker{crashed, observer} {
		if err := tracker.Join(ctx); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}
	defer observer.Leave(ctx)

	if err := observer.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if counts := observer.Counts(); counts.Online != 2 {
		t.Fatalf("expected 2 online before expiry, got %d", counts.Online)
	}

	// Past the TTL, then the live session renews. The crashed record stays gone.
	s.FastForward(31 * time.Second)
	if err := observer.heartbeat(ctx); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	if err := observer.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if counts := observer.Counts(); counts.Online != 1 {
		t.Errorf("expected 1 online after expiry, got %d", counts.Online)
	}
}
