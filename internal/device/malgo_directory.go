package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// malgoDirectory is the real Directory implementation, backed by the
// cross-platform device enumeration malgo exposes over miniaudio. Grounded
// on the teacher's internal/audio capture/playback device-open calls,
// which use the same AllocatedContext.
type malgoDirectory struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoDirectory initializes a malgo context for device enumeration.
// Call Close when done.
func NewMalgoDirectory() (*malgoDirectory, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init malgo context: %w", err)
	}
	return &malgoDirectory{ctx: ctx}, nil
}

// Close releases the underlying malgo context.
func (d *malgoDirectory) Close() error {
	if d.ctx == nil {
		return nil
	}
	if err := d.ctx.Uninit(); err != nil {
		return err
	}
	d.ctx.Free()
	d.ctx = nil
	return nil
}

// ListDevices returns every playback and capture device the OS reports.
func (d *malgoDirectory) ListDevices() ([]Info, error) {
	playback, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate playback devices: %w", err)
	}
	capture, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate capture devices: %w", err)
	}

	byID := make(map[string]*Info)
	var order []string
	for _, dev := range playback {
		id := deviceIDString(dev.ID)
		byID[id] = &Info{ID: id, Name: deviceName(dev), HasOutput: true}
		order = append(order, id)
	}
	for _, dev := range capture {
		id := deviceIDString(dev.ID)
		if existing, ok := byID[id]; ok {
			existing.HasInput = true
			continue
		}
		byID[id] = &Info{ID: id, Name: deviceName(dev), HasInput: true}
		order = append(order, id)
	}

	out := make([]Info, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// DefaultOutput resolves the OS's current default playback device.
func (d *malgoDirectory) DefaultOutput() (Info, error) {
	playback, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return Info{}, fmt.Errorf("device: enumerate playback devices: %w", err)
	}
	for _, dev := range playback {
		if dev.IsDefault != 0 {
			return Info{ID: deviceIDString(dev.ID), Name: deviceName(dev), HasOutput: true}, nil
		}
	}
	if len(playback) > 0 {
		dev := playback[0]
		return Info{ID: deviceIDString(dev.ID), Name: deviceName(dev), HasOutput: true}, nil
	}
	return Info{}, ErrNoDefaultOutput
}

// ByName looks up a device by exact name match, per spec.md §4.H.
func (d *malgoDirectory) ByName(name string) (Info, bool, error) {
	all, err := d.ListDevices()
	if err != nil {
		return Info{}, false, err
	}
	for _, info := range all {
		if info.Name == name {
			return info, true, nil
		}
	}
	return Info{}, false, nil
}

func deviceIDString(id malgo.DeviceID) string {
	return fmt.Sprintf("%x", id[:])
}

// ParseDeviceID reverses deviceIDString, for callers (the Mixer Bus) that
// need to reopen a device by the id a Directory previously handed out.
func ParseDeviceID(s string) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("device: parse device id %q: %w", s, err)
	}
	n := copy(id[:], raw)
	if n != len(raw) {
		return id, fmt.Errorf("device: device id %q too long", s)
	}
	return id, nil
}

func deviceName(dev malgo.DeviceInfo) string {
	return strings.TrimRight(string(dev.Name[:]), "\x00")
}
