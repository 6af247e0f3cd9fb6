// Package meter implements the Meter/Activity Reporter (spec.md §4.I): a
// pure read side over the atomics internal/channel already maintains,
// safe to call from any non-real-time thread.
package meter

import (
	"time"

	"github.com/mvogt/panelmix/internal/channel"
)

// Level is one channel's peak/RMS snapshot.
type Level struct {
	ChannelID string
	Peak      float32
	RMS       float32
}

// Reporter polls a fixed set of channels — typically the primary bus's
// membership — without mutating anything.
type Reporter struct {
	channels []*channel.Channel
}

// New creates a Reporter over the given channels, in the order they
// should be reported.
func New(channels []*channel.Channel) *Reporter {
	return &Reporter{channels: channels}
}

// Activity reports whether ch had an above-threshold sample within the
// last 500ms, per spec.md §4.I.
func (r *Reporter) Activity(ch *channel.Channel) bool {
	return ch.Active(time.Now())
}

// Levels returns the current peak/RMS for every channel this Reporter was
// constructed with, in order.
func (r *Reporter) Levels() []Level {
	out := make([]Level, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, Level{
			ChannelID: ch.ID,
			Peak:      ch.Peak(),
			RMS:       ch.RMS(),
		})
	}
	return out
}
