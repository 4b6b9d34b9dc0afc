package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPlayer delivers the alert to the user's dashboard by publishing on a
// per-user channel; the connected client performs the actual playback.
type RedisPlayer struct {
	client *redis.Client
	userID string
}

func NewRedisPlayer(client *redis.Client, userID string) *RedisPlayer {
	return &RedisPlayer{client: client, userID: userID}
}

func (p *RedisPlayer) Play(ctx context.Context, soundURL string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id":   p.userID,
		"sound_url": soundURL,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.client.Publish(ctx, "alerts:"+p.userID, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
