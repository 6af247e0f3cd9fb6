package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mvogt/panelmix/internal/bus"
	"github.com/mvogt/panelmix/internal/channel"
	"github.com/mvogt/panelmix/internal/device"
	"github.com/mvogt/panelmix/internal/endpoint"
)

const saveDebounceWindow = 1 * time.Second

// Manager is the Routing Manager (spec.md §4.G): it owns the persisted
// configuration, wires channel<->bus membership, applies hardware events,
// and debounces saves. One per app instance (spec.md §9 "Global state").
type Manager struct {
	mu sync.Mutex

	path   string
	cfg    *Config
	host   *endpoint.Host
	dir    device.Directory
	logger *log.Logger

	buses    map[string]*bus.Bus
	channels map[string]*channel.Channel

	debouncedSave func(func())
}

// NewManager constructs a Manager bound to the given persisted-config path,
// Plugin Host, and Device Directory. Call Initialize before use.
func NewManager(path string, host *endpoint.Host, dir device.Directory, logger *log.Logger) *Manager {
	return &Manager{
		path:          path,
		host:          host,
		dir:           dir,
		logger:        logger,
		buses:         make(map[string]*bus.Bus),
		channels:      make(map[string]*channel.Channel),
		debouncedSave: debounce.New(saveDebounceWindow),
	}
}

// Initialize loads the persisted config (or defaults), builds the
// `personal` and `voicechat` buses, populates their member channels, and
// starts any bus with at least one enabled member, per spec.md §4.G.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var defaultNames []string
	for _, ep := range m.host.Endpoints() {
		if ep.Name != endpoint.VoiceChatName {
			defaultNames = append(defaultNames, ep.Name)
		}
	}

	cfg, err := Load(m.path, defaultNames)
	if err != nil {
		return fmt.Errorf("routing: load config: %w", err)
	}
	m.cfg = cfg

	for i := range cfg.InputChannels {
		if cfg.InputChannels[i].ID == "" {
			cfg.InputChannels[i].ID = newChannelID()
		}
	}

	for _, cc := range cfg.InputChannels {
		ep, ok := m.host.Endpoint(cc.DeviceName)
		if !ok {
			m.logger.Warn("routing: channel references unknown endpoint", "channel", cc.ID, "device", cc.DeviceName)
			continue
		}
		ch := channel.New(cc.ID, cc.DeviceName, ep.Rate(), 10)
		ch.SetLabel(cc.ChannelName)
		ch.SetGain(effectiveGain(cc))
		m.channels[cc.ID] = ch
	}

	for _, bc := range cfg.MixBuses {
		b := m.buildBus(bc)
		m.buses[bc.ID] = b

		if !b.HasEnabledMembers() {
			m.logger.Info("routing: bus has no enabled members, leaving stopped", "bus", bc.ID)
			continue
		}
		if err := m.startBus(b, bc.OutputDeviceID); err != nil {
			m.logger.Error("routing: bus failed to start", "bus", bc.ID, "err", err)
		}
	}

	return nil
}

func (m *Manager) buildBus(bc BusConfig) *bus.Bus {
	b := bus.New(bc.ID, bc.Name, m.dir)
	for _, mem := range bc.Channels {
		ch, ok := m.channels[mem.ChannelID]
		if !ok {
			continue
		}
		var srcName string
		for _, cc := range m.cfg.InputChannels {
			if cc.ID == mem.ChannelID {
				srcName = cc.DeviceName
				break
			}
		}
		ep, ok := m.host.Endpoint(srcName)
		if !ok {
			continue
		}
		b.AddMember(ch, ep)
		b.SetChannelEnabled(mem.ChannelID, mem.Enabled)
		if mem.GainOverride != nil {
			b.SetChannelGainOverride(mem.ChannelID, *mem.GainOverride, true)
		}
	}
	return b
}

func (m *Manager) startBus(b *bus.Bus, sinkID *string) error {
	if err := b.SetSink(sinkID); err != nil {
		return err
	}
	return b.Start()
}

func effectiveGain(cc ChannelConfig) float32 {
	if cc.Muted {
		return 0
	}
	return cc.Volume
}

// scheduleSave coalesces rapid mutating calls into one flush, per spec.md
// §4.G "Persistence."
func (m *Manager) scheduleSave() {
	m.debouncedSave(func() {
		m.mu.Lock()
		cfg := m.cfg
		path := m.path
		m.mu.Unlock()

		if err := Save(path, cfg); err != nil {
			m.logger.Error("routing: save failed, in-memory state remains authoritative", "err", err)
		}
	})
}

// Shutdown flushes any pending save synchronously, per spec.md §4.G "A
// clean shutdown flushes pending saves synchronously."
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	cfg := m.cfg
	path := m.path
	m.mu.Unlock()
	return Save(path, cfg)
}

// channelConfig returns a pointer into m.cfg.InputChannels for in-place
// mutation, or nil if id is unknown.
func (m *Manager) channelConfig(id string) *ChannelConfig {
	for i := range m.cfg.InputChannels {
		if m.cfg.InputChannels[i].ID == id {
			return &m.cfg.InputChannels[i]
		}
	}
	return nil
}

// SetChannelLabel implements spec.md §6's set_channel_label.
func (m *Manager) SetChannelLabel(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cc := m.channelConfig(id)
	ch, ok := m.channels[id]
	if cc == nil || !ok {
		return fmt.Errorf("routing: unknown channel %q", id)
	}
	ch.SetLabel(text)
	cc.ChannelName = ch.Label()
	m.scheduleSave()
	return nil
}

// SetChannelVolume implements spec.md §6's set_channel_volume.
func (m *Manager) SetChannelVolume(id string, v float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	cc := m.channelConfig(id)
	ch, ok := m.channels[id]
	if cc == nil || !ok {
		return fmt.Errorf("routing: unknown channel %q", id)
	}
	cc.Volume = v
	ch.SetGain(effectiveGain(*cc))
	m.scheduleSave()
	return nil
}

// SetChannelMuted implements spec.md §6's set_channel_muted.
func (m *Manager) SetChannelMuted(id string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cc := m.channelConfig(id)
	ch, ok := m.channels[id]
	if cc == nil || !ok {
		return fmt.Errorf("routing: unknown channel %q", id)
	}
	cc.Muted = muted
	ch.SetGain(effectiveGain(*cc))
	m.scheduleSave()
	return nil
}

// SetChannelInMix implements spec.md §6's set_channel_in_mix, including
// the on-demand Voice Chat bus start spec.md §9's Open Question resolves:
// Initialize builds every configured bus but leaves one with no enabled
// members stopped; enabling a member of a bus that is not running starts
// it here. A busID with no bus built at Initialize is an error.
func (m *Manager) SetChannelInMix(busID, channelID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buses[busID]
	if !ok {
		return fmt.Errorf("routing: unknown bus %q", busID)
	}

	bc := m.busConfig(busID)
	if bc == nil {
		return fmt.Errorf("routing: unknown bus %q", busID)
	}
	m.setBusMemberConfig(bc, channelID, enabled)

	if !b.SetChannelEnabled(channelID, enabled) {
		ch, ok := m.channels[channelID]
		if !ok {
			return fmt.Errorf("routing: unknown channel %q", channelID)
		}
		srcName := ch.Name
		ep, ok := m.host.Endpoint(srcName)
		if !ok {
			return fmt.Errorf("routing: channel %q has no source endpoint", channelID)
		}
		b.AddMember(ch, ep)
		b.SetChannelEnabled(channelID, enabled)
	}

	if enabled && b.State() != bus.Running && b.HasEnabledMembers() {
		if err := m.startBus(b, bc.OutputDeviceID); err != nil {
			return fmt.Errorf("routing: start bus %q on demand: %w", busID, err)
		}
	}

	m.scheduleSave()
	return nil
}

func (m *Manager) busConfig(id string) *BusConfig {
	for i := range m.cfg.MixBuses {
		if m.cfg.MixBuses[i].ID == id {
			return &m.cfg.MixBuses[i]
		}
	}
	return nil
}

func (m *Manager) setBusMemberConfig(bc *BusConfig, channelID string, enabled bool) {
	for i := range bc.Channels {
		if bc.Channels[i].ChannelID == channelID {
			bc.Channels[i].Enabled = enabled
			return
		}
	}
	bc.Channels = append(bc.Channels, BusMember{ChannelID: channelID, Enabled: enabled})
}

// SetBusSink implements spec.md §6's set_bus_sink and §4.G's "Live sink
// switch": stop, update config, resolve the concrete device (nil falls
// back to the OS default at start time), re-sink, and restart. On restart
// failure the bus is left Stopped and the error surfaced.
func (m *Manager) SetBusSink(busID string, deviceID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buses[busID]
	if !ok {
		return fmt.Errorf("routing: unknown bus %q", busID)
	}
	bc := m.busConfig(busID)
	if bc == nil {
		return fmt.Errorf("routing: unknown bus %q", busID)
	}

	if b.State() == bus.Running {
		if err := b.Stop(); err != nil {
			return fmt.Errorf("routing: stop bus %q: %w", busID, err)
		}
	}

	bc.OutputDeviceID = deviceID
	if err := m.startBus(b, deviceID); err != nil {
		m.logger.Error("routing: restart after sink switch failed, bus left stopped", "bus", busID, "err", err)
		m.scheduleSave()
		return fmt.Errorf("routing: restart bus %q after sink switch: %w", busID, err)
	}

	m.scheduleSave()
	return nil
}

// OnHardwareEvent implements spec.md §4.G's hardware-event dispatch:
// `volume` scales raw 0-255 to [0,1] and updates the channel's configured
// volume; `mute-toggle` on press flips mute. Either way the effective gain
// is broadcast to every bus containing the channel. Unknown indices are
// warned and ignored.
func (m *Manager) OnHardwareEvent(index int, value int, pressed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%d", index)
	mapping, ok := m.cfg.HardwareMapping[key]
	if !ok {
		m.logger.Warn("routing: hardware event on unmapped index", "index", index)
		return
	}

	cc := m.channelConfig(mapping.TargetID)
	ch, found := m.channels[mapping.TargetID]
	if cc == nil || !found {
		m.logger.Warn("routing: hardware mapping targets unknown channel", "index", index, "channel", mapping.TargetID)
		return
	}

	switch mapping.Type {
	case ActionVolume:
		v := float32(value) / 255
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		cc.Volume = v
	case ActionMuteToggle:
		if !pressed {
			return
		}
		cc.Muted = !cc.Muted
	default:
		m.logger.Warn("routing: unknown hardware mapping action", "index", index, "type", mapping.Type)
		return
	}

	ch.SetGain(effectiveGain(*cc))
	m.scheduleSave()
}

// Channel returns the live channel by id, for the Meter/Activity Reporter
// and the control surface's get_state.
func (m *Manager) Channel(id string) (*channel.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Bus returns the live bus by id.
func (m *Manager) Bus(id string) (*bus.Bus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[id]
	return b, ok
}

// Snapshot captures enough state to answer get_state() (spec.md §6)
// without exposing mutable internals.
type Snapshot struct {
	Channels []ChannelState
	Buses    []BusState
}

// ChannelState is one channel's get_state() view.
type ChannelState struct {
	ID            string
	Label         string
	HardwareIndex int
	Volume        float32
	Muted         bool
	Active        bool
}

// BusState is one bus's get_state() view.
type BusState struct {
	ID             string
	Name           string
	OutputDeviceID *string
	Running        bool
	Members        []string
}

// GetState implements spec.md §6's get_state().
func (m *Manager) GetState() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var snap Snapshot
	for _, cc := range m.cfg.InputChannels {
		ch := m.channels[cc.ID]
		active := ch != nil && ch.Active(now)
		snap.Channels = append(snap.Channels, ChannelState{
			ID:            cc.ID,
			Label:         cc.ChannelName,
			HardwareIndex: cc.HardwareIndex,
			Volume:        cc.Volume,
			Muted:         cc.Muted,
			Active:        active,
		})
	}
	for _, bc := range m.cfg.MixBuses {
		b := m.buses[bc.ID]
		var running bool
		var members []string
		if b != nil {
			running = b.State() == bus.Running
			for _, ch := range b.Members() {
				members = append(members, ch.ID)
			}
		}
		snap.Buses = append(snap.Buses, BusState{
			ID:             bc.ID,
			Name:           bc.Name,
			OutputDeviceID: bc.OutputDeviceID,
			Running:        running,
			Members:        members,
		})
	}
	return snap
}

// ListOutputs implements spec.md §6's list_outputs().
func (m *Manager) ListOutputs() ([]device.Info, error) {
	all, err := m.dir.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("routing: list outputs: %w", err)
	}
	var outputs []device.Info
	for _, d := range all {
		if d.HasOutput {
			outputs = append(outputs, d)
		}
	}
	return outputs, nil
}

// newChannelID mints a stable id for a persisted channel whose id field is
// empty (see Initialize).
func newChannelID() string {
	return uuid.NewString()
}
