// Package presence tracks which users are currently online. Each connected
// session publishes a heartbeat record under a shared topic; online counts are
// derived from a periodic full-topic snapshot, counting distinct users rather
// than records.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateJoining      State = "joining"
	StateSynced       State = "synced"
)

// Record is one session's heartbeat. Multiple records may share a user_id
// when the same user is connected from several devices or tabs.
type Record struct {
	UserID   string    `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}

type Counts struct {
	Online  int `json:"onlineUsers"`
	Offline int `json:"offlineUsers"`
}

// ProfileCounter supplies the total number of active profiles, the
// denominator for the offline derivation.
type ProfileCounter interface {
	CountActiveProfiles(ctx context.Context) (int, error)
}

type Options struct {
	TTL               time.Duration
	HeartbeatInterval time.Duration
	SnapshotInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = o.TTL / 3
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = 15 * time.Second
	}
	return o
}

// Tracker is one session's membership in the presence topic.
type Tracker struct {
	client    *redis.Client
	topic     string
	userID    string
	sessionID string
	profiles  ProfileCounter
	opts      Options

	mu     sync.Mutex
	state  State
	counts Counts
	stop   chan struct{}
}

func NewTracker(client *redis.Client, topic, userID string, profiles ProfileCounter, opts Options) *Tracker {
	return &Tracker{
		client:    client,
		topic:     topic,
		userID:    userID,
		sessionID: uuid.NewString(),
		profiles:  profiles,
		opts:      opts.withDefaults(),
		state:     StateDisconnected,
	}
}

func (t *Tracker) key() string {
	return fmt.Sprintf("presence:%s:%s", t.topic, t.sessionID)
}

func (t *Tracker) topicPattern() string {
	return fmt.Sprintf("presence:%s:*", t.topic)
}

// Join publishes this session's heartbeat, takes an initial snapshot, and
// starts the heartbeat/snapshot loops. The tracker moves through joining to
// synced once the first snapshot lands.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return fmt.Errorf("presence: already joined")
	}
	t.state = StateJoining
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	if err := t.heartbeat(ctx); err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return err
	}
	if err := t.Refresh(ctx); err != nil {
		// Stay joined; the snapshot loop will retry.
		log.Printf("presence: initial snapshot failed: %v", err)
	}

	go t.loop(stop)
	return nil
}

// Leave removes this session's heartbeat and returns to disconnected.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	close(t.stop)
	t.stop = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if err := t.client.Del(ctx, t.key()).Err(); err != nil {
		return fmt.Errorf("remove heartbeat: %w", err)
	}
	return nil
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

func (t *Tracker) heartbeat(ctx context.Context) error {
	payload, err := json.Marshal(Record{UserID: t.userID, OnlineAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := t.client.Set(ctx, t.key(), payload, t.opts.TTL).Err(); err != nil {
		return fmt.Errorf("publish heartbeat: %w", err)
	}
	return nil
}

// Refresh takes a full snapshot of the topic and recomputes counts. Online is
// the number of distinct user_id values present, not the record count.
// Offline is active profiles minus online, clamped at zero because the
// profile count can lag behind the snapshot.
func (t *Tracker) Refresh(ctx context.Context) error {
	records, err := t.snapshot(ctx)
	if err != nil {
		return err
	}

	distinct := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.UserID == "" {
			continue
		}
		distinct[record.UserID] = struct{}{}
	}
	online := len(distinct)

	total, err := t.profiles.CountActiveProfiles(ctx)
	if err != nil {
		return fmt.Errorf("count active profiles: %w", err)
	}
	offline := total - online
	if offline < 0 {
		offline = 0
	}

	t.mu.Lock()
	if t.state == StateJoining {
		t.state = StateSynced
	}
	t.counts = Counts{Online: online, Offline: offline}
	t.mu.Unlock()
	return nil
}

func (t *Tracker) snapshot(ctx context.Context) ([]Record, error) {
	var keys []string
	iter := t.client.Scan(ctx, 0, t.topicPattern(), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence topic: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence records: %w", err)
	}

	records := make([]Record, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Key expired between SCAN and MGET.
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			log.Printf("presence: skipping malformed record: %v", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (t *Tracker) loop(stop chan struct{}) {
	heartbeatTicker := time.NewTicker(t.opts.HeartbeatInterval)
	snapshotTicker := time.NewTicker(t.opts.SnapshotInterval)
	defer heartbeatTicker.Stop()
	defer snapshotTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeatTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := t.heartbeat(ctx); err != nil {
				log.Printf("presence: heartbeat failed: %v", err)
			}
			cancel()
		case <-snapshotTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := t.Refresh(ctx); err != nil {
				log.Printf("presence: snapshot failed: %v", err)
			}
			cancel()
		}
	}
}
