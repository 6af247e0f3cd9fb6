package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvogt/panelmix/internal/channel"
)

func TestLevelsReportsPeakAndRMSPerChannel(t *testing.T) {
	ch1 := channel.New("k1", "Panel K1", 48000, 0.1)
	frames := make([][2]float32, 480)
	for i := range frames {
		frames[i] = [2]float32{0.25, -0.25}
	}
	ch1.WriteInput(frames)

	r := New([]*channel.Channel{ch1})
	levels := r.Levels()
	assert.Len(t, levels, 1)
	assert.Equal(t, "k1", levels[0].ChannelID)
	assert.InDelta(t, 0.25, levels[0].Peak, 1e-6)
	assert.InDelta(t, 0.25, levels[0].RMS, 1e-6)
}

func TestActivityReflectsRecentAboveThresholdSample(t *testing.T) {
	ch1 := channel.New("k1", "Panel K1", 48000, 0.1)
	r := New([]*channel.Channel{ch1})
	assert.False(t, r.Activity(ch1))

	frames := make([][2]float32, 10)
	for i := range frames {
		frames[i] = [2]float32{0.5, 0.5}
	}
	ch1.WriteInput(frames)
	assert.True(t, r.Activity(ch1))
}
