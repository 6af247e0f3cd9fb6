// Package device implements the Device Directory (spec.md §4.H): a
// query-only view of the OS's real audio devices, consumed by the Mixer
// Bus when resolving a sink and by the control surface's list_outputs
// operation.
package device

import "fmt"

// Info describes one OS-visible audio device.
type Info struct {
	ID          string
	Name        string
	HasOutput   bool
	HasInput    bool
}

// Directory is the query-only capability spec.md §4.H assigns this
// component: list devices, resolve the default output, look up by name.
// It does not cache results across calls — every call reflects current OS
// state, per spec.md's "The core only consumes this — it does not cache
// results across calls."
type Directory interface {
	ListDevices() ([]Info, error)
	DefaultOutput() (Info, error)
	ByName(name string) (Info, bool, error)
}

// ErrNoDefaultOutput is returned by DefaultOutput when the OS reports no
// usable default playback device.
var ErrNoDefaultOutput = fmt.Errorf("no default output device")
