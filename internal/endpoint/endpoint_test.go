package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHostConstructsNinePlusVoiceChat(t *testing.T) {
	h := newHost(DefaultProfile)
	eps := h.Endpoints()
	require.Len(t, eps, 10)

	_, ok := h.Endpoint("Panel K1")
	assert.True(t, ok)
	assert.Equal(t, h.VoiceChat(), eps[len(eps)-1])
}

func TestLoopbackReadsWhatWasWritten(t *testing.T) {
	h := newHost(DefaultProfile)
	ep, _ := h.Endpoint("Panel K1")
	ep.Start()

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ep.WriteFromApp(payload)

	dst := make([]byte, 8)
	n := ep.ReadForClient(dst)
	assert.Equal(t, 8, n)
	assert.Equal(t, payload, dst)
}

func TestStartAndStopZeroTheRing(t *testing.T) {
	h := newHost(DefaultProfile)
	ep, _ := h.Endpoint("Panel K1")
	ep.Start()
	ep.WriteFromApp([]byte{1, 2, 3, 4})
	ep.Stop()

	dst := make([]byte, 4)
	n := ep.ReadForClient(dst)
	assert.Equal(t, 0, n)
	assert.Equal(t, []byte{0, 0, 0, 0}, dst)
}

func TestSetRateRejectsUnsupported(t *testing.T) {
	h := newHost(DefaultProfile)
	ep, _ := h.Endpoint("Panel K1")

	err := ep.SetRate(22050)
	assert.Error(t, err)
	assert.Equal(t, 48000, ep.Rate())

	err = ep.SetRate(44100)
	assert.NoError(t, err)
	assert.Equal(t, 44100, ep.Rate())
}

func TestLoadIsIdempotent(t *testing.T) {
	h1 := Load(DefaultProfile)
	h2 := Load(DefaultProfile)
	assert.Same(t, h1, h2)
}
