package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mvogt/panelmix/internal/channel"
	"github.com/mvogt/panelmix/internal/device"
	"github.com/mvogt/panelmix/internal/endpoint"
)

func testEndpoint(t *testing.T, name string) *endpoint.Endpoint {
	t.Helper()
	host := endpoint.Load(endpoint.DefaultProfile)
	ep, ok := host.Endpoint(name)
	require.True(t, ok)
	return ep
}

func constantFrames(n int, v float32) [][2]float32 {
	out := make([][2]float32, n)
	for i := range out {
		out[i] = [2]float32{v, v}
	}
	return out
}

func TestStartRejectedFromCreated(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})
	err := b.Start()
	assert.Error(t, err)
	assert.Equal(t, Created, b.State())
}

func TestStopRejectedUnlessRunning(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})
	err := b.Stop()
	assert.Error(t, err)
}

func TestSetSinkRejectedWhileRunning(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})
	b.state.Store(int32(Running))
	err := b.SetSink(nil)
	assert.Error(t, err)
	assert.Equal(t, Running, b.State())
}

func TestSetSinkTransitionsToConfigured(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})
	require.NoError(t, b.SetSink(nil))
	assert.Equal(t, Configured, b.State())
}

func TestRenderIntoSumsEnabledMembersWithGainAndMaster(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})
	b.SetMasterVolume(0.5)

	ch1 := channel.New("k1", "Panel K1", 48000, 0.1)
	ch1.SetGain(0.5)
	ch1.WriteInput(constantFrames(512, 0.2))

	ch2 := channel.New("k2", "Panel K2", 48000, 0.1)
	ch2.SetGain(1.0)
	ch2.SetEnabled(false) // channel disabled: must not contribute
	ch2.WriteInput(constantFrames(512, 0.9))

	m1 := &member{ch: ch1, source: testEndpoint(t, "Panel K1")}
	m1.inMix.Store(true)
	m2 := &member{ch: ch2, source: testEndpoint(t, "Panel K2")}
	m2.inMix.Store(true)
	b.members = []*member{m1, m2}

	out := make([][2]float32, 256)
	b.renderInto(out)

	// Only ch1 contributes: 0.2 * gain 0.5 * master 0.5 = 0.05, well under
	// the soft-clip knee so the identity path applies exactly.
	want := float32(0.05)
	for _, f := range out {
		assert.InDelta(t, want, f[0], 1e-5)
		assert.InDelta(t, want, f[1], 1e-5)
	}
}

func TestRenderIntoExcludesMembersNotInMix(t *testing.T) {
	b := New("bus1", "Personal", &device.FakeDirectory{})

	ch := channel.New("k1", "Panel K1", 48000, 0.1)
	ch.WriteInput(constantFrames(512, 0.5))
	m := &member{ch: ch, source: testEndpoint(t, "Panel K1")}
	// inMix left false (default)
	b.members = []*member{m}

	out := make([][2]float32, 128)
	b.renderInto(out)
	for _, f := range out {
		assert.Equal(t, float32(0), f[0])
		assert.Equal(t, float32(0), f[1])
	}
}

func TestRenderIntoAppliesPerBusGainOverride(t *testing.T) {
	b := New("bus1", "Voice Chat", &device.FakeDirectory{})

	ch := channel.New("k1", "Panel K1", 48000, 0.1)
	ch.SetGain(1.0)
	ch.WriteInput(constantFrames(512, 0.4))

	m := &member{ch: ch, source: testEndpoint(t, "Panel K1")}
	m.inMix.Store(true)
	b.members = []*member{m}
	ok := b.SetChannelGainOverride("k1", 0.25, true)
	require.True(t, ok)

	out := make([][2]float32, 128)
	b.renderInto(out)
	assert.InDelta(t, float32(0.1), out[0][0], 1e-5)
}

func TestSoftClipIdentityBelowKnee(t *testing.T) {
	assert.Equal(t, float32(0.5), softClip(0.5))
	assert.Equal(t, float32(-0.9), softClip(-0.9))
}

func TestSoftClipBoundedAboveKnee(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Float32Range(-5, 5).Draw(rt, "x")
		y := softClip(x)
		assert.LessOrEqual(rt, float64(y), 1.0)
		assert.GreaterOrEqual(rt, float64(y), -1.0)
		if x > 0 {
			assert.GreaterOrEqual(rt, y, float32(0))
		}
		if x < 0 {
			assert.LessOrEqual(rt, y, float32(0))
		}
	})
}

func TestHasEnabledMembersReflectsInMixFlag(t *testing.T) {
	b := New("bus1", "Voice Chat", &device.FakeDirectory{})
	ch := channel.New("k1", "Panel K1", 48000, 0.1)
	m := &member{ch: ch, source: testEndpoint(t, "Panel K1")}
	b.members = []*member{m}

	assert.False(t, b.HasEnabledMembers())
	m.inMix.Store(true)
	assert.True(t, b.HasEnabledMembers())
}
