// Package feed is a table-scoped change feed over Redis pub/sub. Writers
// announce row-level mutations; subscribers only learn that something changed
// and are expected to resynchronize in full.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is the wire payload for a single mutation. Subscribers discard it:
// the consumer-observable contract is "channel fired" only.
type Event struct {
	Type   EventType `json:"eventType"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
}

func channelName(table string) string {
	return "feed:" + table
}

// Publisher announces mutations on the channel for their table.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.Schema == "" {
		event.Schema = "public"
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := p.client.Publish(ctx, channelName(event.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Subscriber opens one dedicated pub/sub channel per Subscribe call. There is
// no sharing between subscribers of the same table; each teardown closes only
// its own channel.
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe invokes onChange for every insert/update/delete announced on the
// table. The returned func tears the channel down; it must be called when the
// owning component goes away or the subscription leaks for the lifetime of
// the session. Teardown stops future invocations but does not cancel work an
// earlier invocation already started.
func (s *Subscriber) Subscribe(ctx context.Context, table string, onChange func()) (func(), error) {
	pubsub := s.client.Subscribe(ctx, channelName(table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				onChange()
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return unsubscribe, nil
}
