package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

type fakePlayer struct {
	plays  []string
	playFn func(ctx context.Context, soundURL string) error
}

func (f *fakePlayer) Play(ctx context.Context, soundURL string) error {
	f.plays = append(f.plays, soundURL)
	if f.playFn != nil {
		return f.playFn(ctx, soundURL)
	}
	return nil
}

func enabledSettings() Settings {
	return Settings{Enabled: true, Sound: true, SoundURL: "/sounds/ding.mp3"}
}

func observeAll(t *Trigger, counts []int, settings Settings) int {
	fired := 0
	for _, count := range counts {
		if t.Observe(context.Background(), count, settings) {
			fired++
		}
	}
	return fired
}

func TestFiresOnlyOnIncreases(t *testing.T) {
	player := &fakePlayer{}
	trigger := NewTrigger(player)

	fired := observeAll(trigger, []int{2, 2, 5, 3, 3, 4}, enabledSettings())
	if fired != 2 {
		t.Errorf("expected exactly 2 alerts for [2 2 5 3 3 4], got %d", fired)
	}
	if len(player.plays) != 2 {
		t.Errorf("expected 2 playbacks, got %d", len(player.plays))
	}
}

func TestFirstObservationIsBaselineOnly(t *testing.T) {
	trigger := NewTrigger(&fakePlayer{})

	// A large initial backlog must not fire on its own.
	if trigger.Observe(context.Background(), 40, enabledSettings()) {
		t.Error("first observation fired")
	}
	if !trigger.Observe(context.Background(), 41, enabledSettings()) {
		t.Error("increase after baseline did not fire")
	}
}

func TestDisabledSettingsNeverFire(t *testing.T) {
	for name, settings := range map[string]Settings{
		"all off":       {},
		"sound off":     {Enabled: true},
		"enabled off":   {Sound: true},
		"email only on": {Email: true},
	} {
		t.Run(name, func(t *testing.T) {
			player := &fakePlayer{}
			trigger := NewTrigger(player)
			if fired := observeAll(trigger, []int{0, 3, 7, 9}, settings); fired != 0 {
				t.Errorf("fired %d times with settings %+v", fired, settings)
			}
			if len(player.plays) != 0 {
				t.Errorf("player invoked %d times", len(player.plays))
			}
		})
	}
}

func TestPlaybackFailureIsNonFatal(t *testing.T) {
	player := &fakePlayer{playFn: func(ctx context.Context, soundURL string) error {
		return errors.New("autoplay blocked")
	}}
	trigger := NewTrigger(player)

	trigger.Observe(context.Background(), 1, enabledSettings())
	if !trigger.Observe(context.Background(), 2, enabledSettings()) {
		t.Error("alert should count as fired even when playback fails")
	}
}

func TestPlayerReceivesConfiguredSoundURL(t *testing.T) {
	player := &fakePlayer{}
	trigger := NewTrigger(player)
	settings := Settings{Enabled: true, Sound: true, SoundURL: "/custom.mp3"}

	trigger.Observe(context.Background(), 0, settings)
	trigger.Observe(context.Background(), 1, settings)
	if len(player.plays) != 1 || player.plays[0] != "/custom.mp3" {
		t.Errorf("expected playback of /custom.mp3, got %v", player.plays)
	}
}

func TestResolveSettings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Settings
	}{
		{"empty blob", "", Settings{}},
		{"empty object", "{}", Settings{}},
		{"all set", `{"enabled":true,"sound":true,"email":true,"sound_url":"/a.mp3"}`, Settings{Enabled: true, Sound: true, Email: true, SoundURL: "/a.mp3"}},
		{"partial falls back per field", `{"enabled":true}`, Settings{Enabled: true}},
		{"explicit false wins", `{"enabled":false,"sound":true}`, Settings{Sound: true}},
		{"malformed", `{"enabled":`, Settings{}},
		{"unknown fields ignored", `{"enabled":true,"volume":11}`, Settings{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSettings(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("ResolveSettings(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAlertCountMatchesStrictIncreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counts := rapid.SliceOfN(rapid.IntRange(0, 50), 1, 40).Draw(t, "counts")
		enabled := rapid.Bool().Draw(t, "enabled")

		settings := Settings{Enabled: enabled, Sound: enabled}
		trigger := NewTrigger(&fakePlayer{})
		fired := observeAll(trigger, counts, settings)

		want := 0
		if enabled {
			for i := 1; i < len(counts); i++ {
				if counts[i] > counts[i-1] {
					want++
				}
			}
		}
		if fired != want {
			t.Fatalf("counts %v enabled=%v: fired %d, want %d", counts, enabled, fired, want)
		}
	})
}
