// Package bus implements the Mixer Bus (spec.md §4.F): a fan-in summing
// node that aggregates enabled Input Channels and writes the result to one
// real output sink.
package bus

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/mvogt/panelmix/internal/channel"
	"github.com/mvogt/panelmix/internal/device"
	"github.com/mvogt/panelmix/internal/endpoint"
	"github.com/mvogt/panelmix/internal/resample"
)

// State is one of the four states in spec.md §4.F's state machine.
type State int32

const (
	Created State = iota
	Configured
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const pumpPeriod = 10 * time.Millisecond

// member is one Input Channel's membership in this Bus: the channel
// itself, the endpoint it's pumped from, and the per-bus fields spec.md §3
// assigns to Bus membership (as opposed to the channel-level gain/mute).
type member struct {
	ch     *channel.Channel
	source *endpoint.Endpoint

	inMix        atomic.Bool
	hasOverride  atomic.Bool
	gainOverride atomic.Uint32 // float32 bits, valid only when hasOverride

	stop chan struct{}
	wg   sync.WaitGroup
}

// Bus is the fan-in summing node described in spec.md §4.F.
type Bus struct {
	ID   string
	Name string

	mu    sync.Mutex // guards state below; never held across a render callback
	state atomic.Int32

	sinkDeviceID *string // nil means "use the OS default output at start time"
	sinkRate     int

	masterVolume atomic.Uint32 // float32 bits

	members []*member
	dir     device.Directory

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	// scratch and renderBuf are real-time scratch buffers touched only by
	// this bus's own render callback thread, sized in Start so renderInto
	// and the Data callback never call make on the hot path (spec.md §5).
	scratch   [][2]float32
	renderBuf [][2]float32
}

// New creates a Bus in the Created state with master volume at unity.
func New(id, name string, dir device.Directory) *Bus {
	b := &Bus{ID: id, Name: name, dir: dir}
	b.state.Store(int32(Created))
	b.masterVolume.Store(math.Float32bits(1.0))
	return b
}

// State returns the bus's current lifecycle state.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// MasterVolume returns the current master volume.
func (b *Bus) MasterVolume() float32 {
	return math.Float32frombits(b.masterVolume.Load())
}

// SetMasterVolume clamps and stores the bus's master volume atomically.
func (b *Bus) SetMasterVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	b.masterVolume.Store(math.Float32bits(v))
}

// SetSink configures (or reconfigures) the bus's output device id. A nil
// deviceID means "use the OS default output at start time." Per spec.md
// §4.F changing the sink while Running is not permitted; callers must
// Stop, SetSink, then Start. From any other state the bus moves to
// Configured.
func (b *Bus) SetSink(deviceID *string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := State(b.state.Load())
	if st == Running {
		return fmt.Errorf("bus %s: cannot change sink while running", b.ID)
	}
	b.sinkDeviceID = deviceID
	b.state.Store(int32(Configured))
	return nil
}

// AddMember adds a channel to this bus's membership, initially excluded
// from the mix (per-bus enabled=false) until SetChannelEnabled turns it on.
// Safe to call whether or not the bus is running — membership enable
// flags are atomic per spec.md §9.
func (b *Bus) AddMember(ch *channel.Channel, source *endpoint.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, &member{ch: ch, source: source})
}

// SetChannelEnabled flips whether a member channel contributes to this
// bus's mix. Effective at the next render cycle.
func (b *Bus) SetChannelEnabled(channelID string, enabled bool) bool {
	for _, m := range b.members {
		if m.ch.ID == channelID {
			m.inMix.Store(enabled)
			return true
		}
	}
	return false
}

// SetChannelGainOverride sets or clears (ok=false) a per-bus gain override
// for a member channel.
func (b *Bus) SetChannelGainOverride(channelID string, gain float32, ok bool) bool {
	for _, m := range b.members {
		if m.ch.ID == channelID {
			m.hasOverride.Store(ok)
			if ok {
				m.gainOverride.Store(math.Float32bits(gain))
			}
			return true
		}
	}
	return false
}

// Member looks up a member channel by id, for callers (the Routing
// Manager) that need to read its current state without walking the list
// themselves.
func (b *Bus) Member(channelID string) (*channel.Channel, bool) {
	for _, m := range b.members {
		if m.ch.ID == channelID {
			return m.ch, true
		}
	}
	return nil, false
}

// Members returns every channel belonging to this bus, in membership order.
func (b *Bus) Members() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(b.members))
	for _, m := range b.members {
		out = append(out, m.ch)
	}
	return out
}

// HasEnabledMembers reports whether any member is currently in this bus's
// mix — used by the Routing Manager to decide whether the Voice Chat bus
// should be started at initialize (spec.md §4.G).
func (b *Bus) HasEnabledMembers() bool {
	for _, m := range b.members {
		if m.inMix.Load() {
			return true
		}
	}
	return false
}

// resolveSinkID turns a possibly-nil configured sink into a concrete
// device id, falling back to the OS default output (spec.md §4.G).
func (b *Bus) resolveSinkID() (string, error) {
	if b.sinkDeviceID != nil {
		return *b.sinkDeviceID, nil
	}
	out, err := b.dir.DefaultOutput()
	if err != nil {
		return "", fmt.Errorf("bus %s: resolve default output: %w", b.ID, err)
	}
	return out.ID, nil
}

// Start opens the sink (at the rate openSink reports), builds a Converter per member
// channel whose source rate differs, installs each member's input pump and
// the sink's output device, and transitions to Running. Any failure rolls
// back whatever was installed in this attempt and leaves the bus Stopped,
// per spec.md §4.F and §7.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := State(b.state.Load())
	if st != Configured && st != Stopped {
		return fmt.Errorf("bus %s: start requires Configured or Stopped, got %s", b.ID, st)
	}

	sinkRate, ctx, dev, err := b.openSink()
	if err != nil {
		b.state.Store(int32(Stopped))
		return fmt.Errorf("bus %s: open sink: %w", b.ID, err)
	}
	b.sinkRate = sinkRate
	b.ctx = ctx
	b.dev = dev
	growFrames(&b.scratch, renderFrames)
	growFrames(&b.renderBuf, renderFrames)

	for _, m := range b.members {
		if m.source.Rate() != sinkRate {
			m.ch.SetConverter(resample.New(m.source.Rate(), sinkRate))
		} else {
			m.ch.SetConverter(nil)
		}
		m.ch.Preallocate(framesPerPumpTick(m.source.Rate()), renderFrames)
		m.stop = make(chan struct{})
		m.wg.Add(1)
		go b.pump(m)
	}

	if err := dev.Start(); err != nil {
		b.rollback()
		b.state.Store(int32(Stopped))
		return fmt.Errorf("bus %s: start sink device: %w", b.ID, err)
	}

	b.state.Store(int32(Running))
	return nil
}

// rollback tears down any inputs/output installed during a failed Start,
// in reverse order of creation (spec.md §5 "Resource policy").
func (b *Bus) rollback() {
	for _, m := range b.members {
		if m.stop != nil {
			close(m.stop)
			m.wg.Wait()
			m.stop = nil
		}
	}
	if b.dev != nil {
		b.dev.Uninit()
		b.dev = nil
	}
	if b.ctx != nil {
		b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
}

// Stop reverses Start: stops and destroys the output device, then each
// member's input pump, then transitions to Stopped. No audio is emitted to
// the old sink once Stop returns (spec.md §8 scenario 5).
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if State(b.state.Load()) != Running {
		return fmt.Errorf("bus %s: stop requires Running", b.ID)
	}

	if b.dev != nil {
		b.dev.Stop()
		b.dev.Uninit()
		b.dev = nil
	}
	if b.ctx != nil {
		b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
	for _, m := range b.members {
		if m.stop != nil {
			close(m.stop)
			m.wg.Wait()
			m.stop = nil
		}
	}

	b.state.Store(int32(Stopped))
	return nil
}

// framesPerPumpTick is the number of frames a member's pump goroutine reads
// from its source endpoint each pumpPeriod tick, at the endpoint's nominal
// rate.
func framesPerPumpTick(sourceRate int) int {
	n := int(float64(sourceRate) * pumpPeriod.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// growFrames grows *buf to at least n elements, preserving existing
// capacity across calls so steady-state traffic never reallocates
// (spec.md §5). Touched only by the single real-time thread that owns buf.
func growFrames(buf *[][2]float32, n int) {
	if cap(*buf) < n {
		*buf = make([][2]float32, n)
		return
	}
	*buf = (*buf)[:n]
}

// pump is the per-channel "input IOProc" (spec.md §4.E thread A): it
// drains the source endpoint's ring at a fixed cadence into the channel's
// own ring, where WriteInput also updates peak/RMS/activity.
func (b *Bus) pump(m *member) {
	defer m.wg.Done()

	framesPerTick := framesPerPumpTick(m.source.Rate())
	raw := make([]byte, framesPerTick*8)
	frames := make([][2]float32, framesPerTick)

	ticker := time.NewTicker(pumpPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.source.ReadForClient(raw)
			bytesToFramesLE(raw, frames)
			m.ch.WriteInput(frames)
		}
	}
}

const renderFrames = 480 // 10ms @ 48kHz, a representative sink callback size

// frameBuf reuses b.renderBuf, resized to n, as the frame buffer the
// Data callback renders into. Called only from the sink's own callback
// thread, so no cross-thread synchronization is needed.
func (b *Bus) frameBuf(n int) [][2]float32 {
	growFrames(&b.renderBuf, n)
	return b.renderBuf[:n]
}

// renderInto is the sink's render callback body (spec.md §4.F): clear the
// output, sum enabled members with gain/override/master, soft-clip. Split
// out from the malgo Data callback so it can be exercised directly by
// tests without a real audio device.
func (b *Bus) renderInto(out [][2]float32) {
	for i := range out {
		out[i] = [2]float32{}
	}

	master := b.MasterVolume()

	for _, m := range b.members {
		if !m.inMix.Load() || !m.ch.Enabled() {
			continue
		}

		growFrames(&b.scratch, len(out))
		scratch := b.scratch[:len(out)]
		m.ch.ReadOutput(scratch)

		gain := m.ch.Gain()
		if m.hasOverride.Load() {
			gain *= math.Float32frombits(m.gainOverride.Load())
		}

		for i := range out {
			out[i][0] += scratch[i][0] * gain
			out[i][1] += scratch[i][1] * gain
		}
	}

	for i := range out {
		out[i][0] = softClip(out[i][0] * master)
		out[i][1] = softClip(out[i][1] * master)
	}
}

// softClip bounds a sample to [-1, 1]. Below the ±0.98 knee it is the
// identity (preserving the ±0.5% steady-state amplitude property in
// spec.md §8); above it, a tanh curve rounds the peak instead of hard
// clamping. spec.md §4.F names "hard soft-clip at ±1.0" without
// specifying a curve — resolved here, see DESIGN.md.
func softClip(x float32) float32 {
	const knee = 0.98
	a := x
	if a < 0 {
		a = -a
	}
	if a <= knee {
		return x
	}
	sign := float32(1)
	if x < 0 {
		sign = -1
	}
	over := (a - knee) / (1 - knee)
	return sign * (knee + (1-knee)*float32(math.Tanh(float64(over))))
}

func bytesToFramesLE(raw []byte, out [][2]float32) {
	n := len(raw) / 8
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i][0] = math.Float32frombits(uint32(raw[i*8]) | uint32(raw[i*8+1])<<8 | uint32(raw[i*8+2])<<16 | uint32(raw[i*8+3])<<24)
		out[i][1] = math.Float32frombits(uint32(raw[i*8+4]) | uint32(raw[i*8+5])<<8 | uint32(raw[i*8+6])<<16 | uint32(raw[i*8+7])<<24)
	}
	for i := n; i < len(out); i++ {
		out[i] = [2]float32{}
	}
}
