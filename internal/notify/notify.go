// Package notify gates the audible new-notification alert. The trigger is
// strictly edge-triggered: it fires on unread-count increases only, never on
// the absolute value.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Settings controls notification delivery for one user. Absent settings mean
// everything disabled.
type Settings struct {
	Enabled  bool   `json:"enabled"`
	Sound    bool   `json:"sound"`
	Email    bool   `json:"email"`
	SoundURL string `json:"sound_url,omitempty"`
}

// ResolveSettings decodes a stored settings blob. Missing or malformed input
// and missing fields fall back field by field to the all-disabled defaults,
// not as an all-or-nothing default.
func ResolveSettings(raw json.RawMessage) Settings {
	var parsed struct {
		Enabled  *bool   `json:"enabled"`
		Sound    *bool   `json:"sound"`
		Email    *bool   `json:"email"`
		SoundURL *string `json:"sound_url"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			log.Printf("notify: malformed settings, using defaults: %v", err)
		}
	}

	var settings Settings
	if parsed.Enabled != nil {
		settings.Enabled = *parsed.Enabled
	}
	if parsed.Sound != nil {
		settings.Sound = *parsed.Sound
	}
	if parsed.Email != nil {
		settings.Email = *parsed.Email
	}
	if parsed.SoundURL != nil {
		settings.SoundURL = *parsed.SoundURL
	}
	return settings
}

// Player emits the audible alert. Implementations may fail (browser autoplay
// policy, disconnected client); the trigger treats that as a non-fatal
// warning and never propagates it.
type Player interface {
	Play(ctx context.Context, soundURL string) error
}

// Trigger observes a monotonic unread count and fires the alert exactly on
// upward transitions. The first observation establishes the baseline without
// firing.
type Trigger struct {
	player Player

	mu      sync.Mutex
	prev    int
	started bool
}

func NewTrigger(player Player) *Trigger {
	return &Trigger{player: player}
}

// Observe records the current unread count and reports whether the alert
// fired. It fires if and only if the count rose since the previous
// observation and settings enable both notifications and sound. Decreases,
// no-ops, and disabled settings never fire, regardless of the count.
func (t *Trigger) Observe(ctx context.Context, unread int, settings Settings) bool {
	t.mu.Lock()
	prev := t.prev
	started := t.started
	t.prev = unread
	t.started = true
	t.mu.Unlock()

	if !started {
		return false
	}
	if unread <= prev || !settings.Enabled || !settings.Sound {
		return false
	}

	if err := t.player.Play(ctx, settings.SoundURL); err != nil {
		log.Printf("notify: alert playback failed (non-fatal): %v", err)
	}
	return true
}
