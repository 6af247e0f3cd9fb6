package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestIdentityAtEqualRates exercises spec.md §8: "for all rate_in ==
// rate_out, the Sample-Rate Converter is byte-identical to input (modulo
// the stack-buffer trip)."
func TestIdentityAtEqualRates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.IntRange(8000, 192000).Draw(t, "rate")
		c := New(rate, rate)
		assert.True(t, c.Identity())

		n := rapid.IntRange(0, 64).Draw(t, "frames")
		in := make([][2]float32, n)
		for i := range in {
			in[i] = [2]float32{float32(i), -float32(i)}
		}
		out := make([][2]float32, n)
		consumed := c.Resample(in, out)

		assert.Equal(t, n, consumed)
		assert.Equal(t, in, out)
	})
}

func TestDownsampleHalvesFrameCount(t *testing.T) {
	c := New(48000, 24000)
	in := make([][2]float32, 20)
	for i := range in {
		in[i] = [2]float32{float32(i), float32(i)}
	}
	out := make([][2]float32, 10)
	consumed := c.Resample(in, out)
	assert.InDelta(t, 20, consumed, 1)
}

func TestUpsampleDoublesFrameCount(t *testing.T) {
	c := New(24000, 48000)
	in := make([][2]float32, 10)
	for i := range in {
		in[i] = [2]float32{float32(i), float32(i)}
	}
	out := make([][2]float32, 20)
	consumed := c.Resample(in, out)
	assert.InDelta(t, 10, consumed, 1)
	// output should be monotonically increasing, interpolated between inputs
	assert.Less(t, out[0][0], out[19][0])
}

func TestConstantSignalStaysConstant(t *testing.T) {
	c := New(44100, 48000)
	in := make([][2]float32, 64)
	for i := range in {
		in[i] = [2]float32{0.5, -0.5}
	}
	out := make([][2]float32, 64)
	c.Resample(in, out)
	for _, frame := range out {
		assert.InDelta(t, 0.5, frame[0], 1e-6)
		assert.InDelta(t, -0.5, frame[1], 1e-6)
	}
}
