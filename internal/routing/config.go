// Package routing implements the Routing Manager (spec.md §4.G): it owns
// the persisted routing configuration, wires Input Channels into Buses,
// dispatches hardware events, and debounces saves.
package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Action kinds a hardware index can be mapped to, per spec.md §3.
const (
	ActionVolume     = "volume"
	ActionMuteToggle = "mute-toggle"
)

// ChannelConfig is one persisted input channel (spec.md §6).
type ChannelConfig struct {
	ID            string  `json:"id"`
	DeviceName    string  `json:"deviceName"`
	ChannelName   string  `json:"channelName"`
	HardwareIndex int     `json:"hardwareIndex"`
	Volume        float32 `json:"volume"`
	Muted         bool    `json:"muted"`
}

// BusMember is one channel's membership within a persisted bus.
type BusMember struct {
	ChannelID    string   `json:"channelId"`
	Enabled      bool     `json:"enabled"`
	GainOverride *float32 `json:"gainOverride"`
}

// BusConfig is one persisted mix bus (spec.md §6).
type BusConfig struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	OutputDeviceID *string     `json:"outputDeviceId"`
	Channels       []BusMember `json:"channels"`
}

// HardwareMapping binds one hardware index to a channel and an action kind.
type HardwareMapping struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

// Config is the whole persisted routing document (spec.md §6).
type Config struct {
	InputChannels   []ChannelConfig            `json:"inputChannels"`
	MixBuses        []BusConfig                `json:"mixBuses"`
	HardwareMapping map[string]HardwareMapping `json:"hardwareMapping"`
}

const (
	personalBusID = "personal"
	voiceChatBusID = "voicechat"
)

// DefaultConfig returns the nine-channel/two-bus default layout from
// spec.md §6 "Defaults": channels at hardware indices 0-8 each mapped to
// `volume` on itself, a `personal` bus enabling all nine with a null sink,
// and an empty `voicechat` bus with a null sink.
func DefaultConfig(profile []string) *Config {
	cfg := &Config{
		HardwareMapping: make(map[string]HardwareMapping, len(profile)),
	}

	personal := BusConfig{ID: personalBusID, Name: "Personal"}
	for i, name := range profile {
		id := fmt.Sprintf("ch-%d", i)
		cfg.InputChannels = append(cfg.InputChannels, ChannelConfig{
			ID:            id,
			DeviceName:    name,
			ChannelName:   name,
			HardwareIndex: i,
			Volume:        1.0,
			Muted:         false,
		})
		personal.Channels = append(personal.Channels, BusMember{ChannelID: id, Enabled: true})
		cfg.HardwareMapping[fmt.Sprintf("%d", i)] = HardwareMapping{Type: ActionVolume, TargetID: id}
	}
	cfg.MixBuses = append(cfg.MixBuses, personal)
	cfg.MixBuses = append(cfg.MixBuses, BusConfig{ID: voiceChatBusID, Name: "Voice Chat"})

	return cfg
}

// Validate enforces spec.md §3's Routing Configuration invariants: unique
// channel ids, exactly one mapping per hardware index, and every mapping's
// target resolving to a known channel.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.InputChannels))
	for _, ch := range c.InputChannels {
		if seen[ch.ID] {
			return fmt.Errorf("routing config: duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
	}
	for idx, mapping := range c.HardwareMapping {
		if !seen[mapping.TargetID] {
			return fmt.Errorf("routing config: hardware mapping %q targets unknown channel %q", idx, mapping.TargetID)
		}
	}
	return nil
}

// Load reads the routing config at path. A missing file is not an error:
// it returns a config built from defaultProfile per spec.md §6's "missing
// fields are filled from defaults."
func Load(path string, defaultProfile []string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(defaultProfile), nil
	}
	if err != nil {
		return nil, fmt.Errorf("routing config: read %s: %w", path, err)
	}

	cfg := DefaultConfig(defaultProfile)
	cfg.InputChannels = nil
	cfg.MixBuses = nil
	cfg.HardwareMapping = make(map[string]HardwareMapping)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("routing config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as whole-file JSON, atomically via
// write-temp-then-rename (spec.md §6).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("routing config: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("routing config: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".routing-*.json.tmp")
	if err != nil {
		return fmt.Errorf("routing config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("routing config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("routing config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("routing config: rename into place: %w", err)
	}
	return nil
}
