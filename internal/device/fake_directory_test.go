package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeDirectoryResolvesDefaultOutput(t *testing.T) {
	d := &FakeDirectory{
		Devices: []Info{
			{ID: "a", Name: "Speakers", HasOutput: true},
			{ID: "b", Name: "Headphones", HasOutput: true},
		},
		Default: "b",
	}

	out, err := d.DefaultOutput()
	assert.NoError(t, err)
	assert.Equal(t, "Headphones", out.Name)

	info, ok, err := d.ByName("Speakers")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", info.ID)

	_, ok, err = d.ByName("speakers")
	assert.NoError(t, err)
	assert.False(t, ok, "ByName must match exactly, not case-insensitively")
}

func TestFakeDirectoryNoDefaultOutput(t *testing.T) {
	d := &FakeDirectory{}
	_, err := d.DefaultOutput()
	assert.ErrorIs(t, err, ErrNoDefaultOutput)
}
