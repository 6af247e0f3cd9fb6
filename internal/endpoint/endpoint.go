// Package endpoint implements the plugin-side Virtual Endpoint and Plugin
// Host (spec.md §4.B, §4.C): the loopback devices applications write audio
// to and the host that owns all of them for the plugin's lifetime.
//
// The OS-level registration that would make these endpoints appear as real
// system audio devices is explicitly out of scope (spec.md §1 lists
// "privileged installation of the audio plugin" as an external
// collaborator) — this package implements exactly the in-process behavior
// spec.md assigns to the core: paired output/input callbacks sharing one
// lock-free ring.
package endpoint

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mvogt/panelmix/internal/ring"
)

// Supported nominal sample rates, per spec.md §4.B ("at least 44100 and 48000").
var supportedRates = []int{44100, 48000}

const channels = 2
const bytesPerFrame = channels * 4 // 32-bit float, packed, native-endian

// Endpoint is one virtual audio device: a stable UID/name, a mutable
// nominal rate, and the single Ring Buffer connecting its output-write and
// input-read callbacks.
type Endpoint struct {
	UID  string // reverse-DNS style stable identifier
	Name string

	rate    atomic.Int64 // current nominal sample rate
	running atomic.Bool
	ringBuf *ring.Buffer
}

func newEndpoint(uid, name string, rate int, ringBytes int) *Endpoint {
	e := &Endpoint{
		UID:     uid,
		Name:    name,
		ringBuf: ring.New(ringBytes),
	}
	e.rate.Store(int64(rate))
	return e
}

// Rate returns the endpoint's current nominal sample rate.
func (e *Endpoint) Rate() int {
	return int(e.rate.Load())
}

// SupportedRates returns the discrete set of rates this endpoint advertises.
func (e *Endpoint) SupportedRates() []int {
	return supportedRates
}

// SetRate attempts to change the endpoint's nominal rate, as when the OS
// negotiates a new device rate (spec.md §4.B). It updates the stream
// format in lock-step; on an unsupported rate it leaves the prior rate in
// place and returns an error.
func (e *Endpoint) SetRate(rate int) error {
	for _, r := range supportedRates {
		if r == rate {
			e.rate.Store(int64(rate))
			return nil
		}
	}
	return fmt.Errorf("endpoint %s: unsupported sample rate %d", e.UID, rate)
}

// Start transitions the endpoint to IO-running: the ring is zeroed and
// counters reset so a new session never replays stale audio.
func (e *Endpoint) Start() {
	e.ringBuf.Reset()
	e.running.Store(true)
}

// Stop transitions the endpoint out of IO-running, zeroing the ring again.
func (e *Endpoint) Stop() {
	e.running.Store(false)
	e.ringBuf.Reset()
}

// Running reports whether the endpoint is currently in IO-running state.
func (e *Endpoint) Running() bool {
	return e.running.Load()
}

// WriteFromApp is the output stream's "post-mix write" callback: the OS
// hands the endpoint a buffer of bytes written by an application, and this
// forwards it into the Ring Buffer.
func (e *Endpoint) WriteFromApp(buf []byte) {
	e.ringBuf.Write(buf)
}

// ReadForClient is the input stream's "client read" callback: it fills all
// of dst with bytes sourced from whatever was most recently written to the
// output side (the loopback policy), zero-filled on underrun, and returns
// the number of real (non-fill) bytes delivered.
func (e *Endpoint) ReadForClient(dst []byte) int {
	return e.ringBuf.Read(dst)
}

// Ring exposes the shared Ring Buffer so a Mixer Input Channel can drive
// its own read loop directly from this endpoint, per spec.md's flow
// description in §2 ("each (E) instance... reads the same (A)").
func (e *Endpoint) Ring() *ring.Buffer {
	return e.ringBuf
}

// HardwareControl describes one physical knob/slider/button on the panel
// and the endpoint it targets, used by Plugin Host construction and by the
// Routing Manager's default hardware mapping (spec.md §6 defaults).
type HardwareControl struct {
	Index int
	Name  string
}

// HardwareProfile names a set of panel endpoints, letting alternate panel
// layouts (more or fewer controls) be a data change rather than a code
// change, per SPEC_FULL.md §4.
type HardwareProfile []HardwareControl

// DefaultProfile is the nine-control profile from spec.md §4.C/§6: "Panel
// K1…K5, Panel S1…S4" at hardware indices 0-8.
var DefaultProfile = HardwareProfile{
	{Index: 0, Name: "Panel K1"},
	{Index: 1, Name: "Panel K2"},
	{Index: 2, Name: "Panel K3"},
	{Index: 3, Name: "Panel K4"},
	{Index: 4, Name: "Panel K5"},
	{Index: 5, Name: "Panel S1"},
	{Index: 6, Name: "Panel S2"},
	{Index: 7, Name: "Panel S3"},
	{Index: 8, Name: "Panel S4"},
}

// VoiceChatName is the name of the bidirectional endpoint whose input
// stream is surfaced to applications as a microphone (spec.md §4.C).
const VoiceChatName = "Voice Chat"

const defaultRingSeconds = 2.0 // spec.md §3: "sized for >=2 seconds at the maximum supported rate"
const maxRate = 48000

// Host owns every Virtual Endpoint for the plugin's lifetime (spec.md
// §4.C, §9: "Plugin Host owns all Virtual Endpoints for the plugin's
// lifetime"). It is constructed exactly once per load — repeated calls
// into the plugin entry point return the same reference.
type Host struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	order     []string
	voiceChat *Endpoint
}

var (
	hostOnce     sync.Once
	hostInstance *Host
)

// Load is the plugin entry point (spec.md §6): it returns the single Host
// reference for this process, constructing it on first call and returning
// the same reference on every subsequent call (idempotent load).
func Load(profile HardwareProfile) *Host {
	hostOnce.Do(func() {
		hostInstance = newHost(profile)
	})
	return hostInstance
}

func newHost(profile HardwareProfile) *Host {
	h := &Host{
		endpoints: make(map[string]*Endpoint),
	}
	ringBytes := int(float64(maxRate) * defaultRingSeconds * bytesPerFrame)

	for _, ctrl := range profile {
		uid := fmt.Sprintf("com.panelmix.endpoint.%s", slug(ctrl.Name))
		ep := newEndpoint(uid, ctrl.Name, maxRate, ringBytes)
		h.endpoints[ctrl.Name] = ep
		h.order = append(h.order, ctrl.Name)
	}

	vc := newEndpoint("com.panelmix.endpoint.voicechat", VoiceChatName, maxRate, ringBytes)
	h.voiceChat = vc
	h.endpoints[VoiceChatName] = vc
	h.order = append(h.order, VoiceChatName)

	return h
}

// Endpoint looks up a virtual endpoint by name.
func (h *Host) Endpoint(name string) (*Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.endpoints[name]
	return ep, ok
}

// VoiceChat returns the bidirectional Voice Chat endpoint.
func (h *Host) VoiceChat() *Endpoint {
	return h.voiceChat
}

// Endpoints returns every endpoint the host owns, in construction order.
func (h *Host) Endpoints() []*Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Endpoint, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.endpoints[name])
	}
	return out
}

func slug(name string) string {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, byte(r))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
		case r == ' ':
			out = append(out, '-')
		}
	}
	return string(out)
}
