// Package resample implements the deterministic, non-drift-compensating
// linear-interpolation sample-rate converter described in spec.md §4.D.
package resample

// Converter performs linear interpolation between consecutive input
// frames, one instance per input channel, stereo (2 channels interleaved).
// It is stateful: it carries a fractional phase accumulator and the tail of
// the previous input block across calls so that streaming input produces
// continuous output.
type Converter struct {
	inRate, outRate int
	ratio           float64 // inRate / outRate
	phase           float64 // fractional position into the pending input, in input-frame units
	prev            [2]float32 // last frame of the previous block, per channel (for phase < 0 lookups)
	havePrev        bool
}

// New returns a Converter for the given nominal rates. When inRate ==
// outRate, Resample degrades to a memcpy.
func New(inRate, outRate int) *Converter {
	return &Converter{
		inRate:  inRate,
		outRate: outRate,
		ratio:   float64(inRate) / float64(outRate),
	}
}

// Identity reports whether this converter is a no-op (equal nominal rates).
func (c *Converter) Identity() bool {
	return c.inRate == c.outRate
}

// Ratio returns inRate/outRate, the number of input frames consumed per
// output frame produced.
func (c *Converter) Ratio() float64 {
	return c.ratio
}

// Resample consumes in (interleaved stereo float32 frames) and writes
// exactly len(out) output frames into out (interleaved stereo). It
// returns the number of input frames actually consumed, so the caller can
// advance its source by that many frames. in must hold enough frames to
// satisfy the requested output — callers should over-read by
// ceil(outFrames*ratio)+2 input frames, per spec.md §4.E.
func (c *Converter) Resample(in [][2]float32, out [][2]float32) int {
	if c.Identity() {
		n := len(in)
		if n > len(out) {
			n = len(out)
		}
		copy(out[:n], in[:n])
		return n
	}

	if len(in) == 0 {
		for i := range out {
			out[i] = [2]float32{}
		}
		return 0
	}

	frameAt := func(i int) [2]float32 {
		switch {
		case i < 0:
			if c.havePrev {
				return c.prev
			}
			return in[0]
		case i >= len(in):
			return in[len(in)-1]
		default:
			return in[i]
		}
	}

	for o := range out {
		i := int(c.phase)
		f := float32(c.phase - float64(i))

		s0 := frameAt(i)
		s1 := frameAt(i + 1)

		out[o][0] = s0[0] + (s1[0]-s0[0])*f
		out[o][1] = s0[1] + (s1[1]-s0[1])*f

		c.phase += c.ratio
	}

	consumed := int(c.phase)
	if consumed > len(in) {
		consumed = len(in)
	}
	c.phase -= float64(consumed)
	if c.phase < 0 {
		c.phase = 0
	}

	c.prev = frameAt(len(in) - 1)
	c.havePrev = true

	return consumed
}

// Reset clears accumulated phase and history, as happens when a bus is
// torn down and rebuilt against a new sink.
func (c *Converter) Reset() {
	c.phase = 0
	c.havePrev = false
	c.prev = [2]float32{}
}
