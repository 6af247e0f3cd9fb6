// Package channel implements the Mixer Input Channel (spec.md §4.E): the
// per-endpoint gain/mute/meter state that a Bus sums from.
package channel

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/mvogt/panelmix/internal/resample"
	"github.com/mvogt/panelmix/internal/ring"
)

// activeThreshold is the -60 dBFS amplitude above which a sample counts as
// "active" for last-activity stamping, per spec.md §4.E.
const activeThreshold = 0.001

// bytesPerFrame is 2 channels * 4 bytes (32-bit float), per spec.md §3.
const bytesPerFrame = 8

// Channel holds the real-time state shared between the input endpoint's
// callback (writer) and a Bus's render callback (reader). All cross-thread
// fields are atomic; nothing here takes a lock.
type Channel struct {
	ID   string // stable identity, persisted in the routing config
	Name string // the virtual endpoint/device name this channel is fed from

	label atomic.Pointer[string] // user-settable display text, distinct from Name

	gain    atomic.Uint32 // float32 bits, clamped to [0,1]
	enabled atomic.Bool

	sourceRate int
	buf        *ring.Buffer
	conv       *resample.Converter // nil when sourceRate == bus sink rate

	peak           atomic.Uint32 // float32 bits
	rms            atomic.Uint32 // float32 bits
	lastActivityNs atomic.Int64

	// Scratch buffers for the real-time input/output paths, owned by this
	// Channel's single producer and single consumer respectively (mirroring
	// the ring.Buffer's own single-writer/single-reader contract). Sized by
	// Preallocate before IO starts so WriteInput/ReadOutput never call make
	// on the hot path (spec.md §5).
	writeBuf     []byte
	readBuf      []byte
	readInBuf    []byte
	readInFrames [][2]float32
}

// New creates a Channel with stable id, fed from an endpoint named name at
// sourceRate, sized for at least minSeconds of buffering at that rate.
func New(id, name string, sourceRate int, minSeconds float64) *Channel {
	minBytes := int(float64(sourceRate) * minSeconds * bytesPerFrame)
	ch := &Channel{
		ID:         id,
		Name:       name,
		sourceRate: sourceRate,
		buf:        ring.New(minBytes),
	}
	ch.SetLabel(name)
	ch.SetGain(1.0)
	ch.enabled.Store(true)
	return ch
}

// Label returns the channel's current user-facing display text.
func (c *Channel) Label() string {
	if p := c.label.Load(); p != nil {
		return *p
	}
	return c.Name
}

// SetLabel sets the channel's display text, truncated to 32 code points
// per spec.md §6's set_channel_label limit.
func (c *Channel) SetLabel(text string) {
	runes := []rune(text)
	if len(runes) > 32 {
		runes = runes[:32]
	}
	truncated := string(runes)
	c.label.Store(&truncated)
}

// SetConverter installs (or clears, with nil) the resampler used when the
// channel's source rate differs from the bus sink rate.
func (c *Channel) SetConverter(conv *resample.Converter) {
	c.conv = conv
}

// Preallocate sizes this channel's internal scratch buffers to handle up to
// writeFrames input frames per WriteInput call and readFrames output frames
// per ReadOutput call, without growing again afterward. Call this from a
// control thread — after SetConverter, before the real-time producer and
// consumer threads start calling WriteInput/ReadOutput — per spec.md §5.
func (c *Channel) Preallocate(writeFrames, readFrames int) {
	growBytes(&c.writeBuf, writeFrames*bytesPerFrame)
	growBytes(&c.readBuf, readFrames*bytesPerFrame)

	inFrames := readFrames
	if c.conv != nil && !c.conv.Identity() {
		inFrames = int(math.Ceil(float64(readFrames)*c.conv.Ratio())) + 2
	}
	growBytes(&c.readInBuf, inFrames*bytesPerFrame)
	growFrames(&c.readInFrames, inFrames)
}

// SourceRate returns the endpoint's nominal rate this channel was created
// against.
func (c *Channel) SourceRate() int {
	return c.sourceRate
}

// SetGain clamps and stores the channel's gain atomically. Effective
// immediately at the next render cycle (spec.md §5).
func (c *Channel) SetGain(g float32) {
	if g < 0 {
		g = 0
	}
	if g > 1 {
		g = 1
	}
	c.gain.Store(math.Float32bits(g))
}

// Gain returns the current gain.
func (c *Channel) Gain() float32 {
	return math.Float32frombits(c.gain.Load())
}

// SetEnabled atomically flips whether this channel contributes to its bus.
func (c *Channel) SetEnabled(e bool) {
	c.enabled.Store(e)
}

// Enabled reports whether this channel currently contributes to its bus.
func (c *Channel) Enabled() bool {
	return c.enabled.Load()
}

// Peak returns the most recently measured peak |sample| over an input
// callback buffer.
func (c *Channel) Peak() float32 {
	return math.Float32frombits(c.peak.Load())
}

// RMS returns the most recently measured RMS over an input callback buffer.
func (c *Channel) RMS() float32 {
	return math.Float32frombits(c.rms.Load())
}

// Active reports whether a sample above the activity threshold was seen
// within the last 500ms, per spec.md §4.I.
func (c *Channel) Active(now time.Time) bool {
	last := c.lastActivityNs.Load()
	if last == 0 {
		return false
	}
	return now.UnixNano()-last < 500*int64(time.Millisecond)
}

// WriteInput is called on the real-time thread driven by the source
// endpoint's input callback: it deposits samples into this channel's ring
// and, in the same pass, updates peak/RMS/activity. frames is stereo
// float32; WriteInput packs it into little-endian raw bytes for the ring.
func (c *Channel) WriteInput(frames [][2]float32) {
	growBytes(&c.writeBuf, len(frames)*bytesPerFrame)
	raw := c.writeBuf[:len(frames)*bytesPerFrame]
	framesToBytesInto(frames, raw)
	c.buf.Write(raw)

	var peak float32
	var sumSquares float64
	var anyActive bool
	for _, f := range frames {
		for _, s := range f {
			a := s
			if a < 0 {
				a = -a
			}
			if a > peak {
				peak = a
			}
			sumSquares += float64(s) * float64(s)
			if a > activeThreshold {
				anyActive = true
			}
		}
	}

	c.peak.Store(math.Float32bits(peak))
	if n := len(frames) * 2; n > 0 {
		rms := float32(math.Sqrt(sumSquares / float64(n)))
		c.rms.Store(math.Float32bits(rms))
	}
	if anyActive {
		c.lastActivityNs.Store(time.Now().UnixNano())
	}
}

// ReadOutput fills out (interleaved stereo float32, len(out) output frames)
// by reading and, if a Converter is installed, resampling this channel's
// buffered input. On underrun the tail is zero-filled by the ring buffer
// itself — ReadOutput never blocks or stalls the bus (spec.md §4.E "tie-break").
func (c *Channel) ReadOutput(out [][2]float32) {
	if c.conv == nil || c.conv.Identity() {
		growBytes(&c.readBuf, len(out)*bytesPerFrame)
		raw := c.readBuf[:len(out)*bytesPerFrame]
		c.buf.Read(raw)
		bytesToFrames(raw, out)
		return
	}

	need := int(math.Ceil(float64(len(out))*c.conv.Ratio())) + 2
	growBytes(&c.readInBuf, need*bytesPerFrame)
	inBuf := c.readInBuf[:need*bytesPerFrame]
	c.buf.Read(inBuf) // ring zero-fills any shortfall; never blocks

	growFrames(&c.readInFrames, need)
	inFrames := c.readInFrames[:need]
	bytesToFrames(inBuf, inFrames)

	c.conv.Resample(inFrames, out)
}

// growBytes grows *buf to at least n bytes, preserving existing capacity
// across calls so steady-state traffic never reallocates (spec.md §5).
func growBytes(buf *[]byte, n int) {
	if cap(*buf) < n {
		*buf = make([]byte, n)
		return
	}
	*buf = (*buf)[:n]
}

// growFrames is growBytes for [][2]float32 scratch buffers.
func growFrames(buf *[][2]float32, n int) {
	if cap(*buf) < n {
		*buf = make([][2]float32, n)
		return
	}
	*buf = (*buf)[:n]
}

func framesToBytesInto(frames [][2]float32, out []byte) {
	for i, f := range frames {
		putFloat32LE(out[i*bytesPerFrame:], f[0])
		putFloat32LE(out[i*bytesPerFrame+4:], f[1])
	}
}

func bytesToFrames(raw []byte, out [][2]float32) {
	n := len(raw) / bytesPerFrame
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i][0] = getFloat32LE(raw[i*bytesPerFrame:])
		out[i][1] = getFloat32LE(raw[i*bytesPerFrame+4:])
	}
	for i := n; i < len(out); i++ {
		out[i] = [2]float32{}
	}
}

func putFloat32LE(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func getFloat32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
