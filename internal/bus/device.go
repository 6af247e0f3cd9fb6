package bus

import (
	"fmt"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/mvogt/panelmix/internal/device"
)

// openSink resolves the bus's configured sink to a device id, opens a
// malgo playback device against it, and wires renderInto as its Data
// callback. The device is opened at the sample rate of malgo's default
// playback config, or at 48000 Hz when that rate is zero; the device's own
// native rate is not queried, and the returned rate is the one requested.
// Grounded on the teacher's Player.initDevice (internal/audio/playback.go):
// same context-then-device sequence, generalized from mono TTS playback to
// the stereo float32 bus format spec.md §4 mandates.
func (b *Bus) openSink() (int, *malgo.AllocatedContext, *malgo.Device, error) {
	sinkID, err := b.resolveSinkID()
	if err != nil {
		return 0, nil, nil, err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("init malgo context: %w", err)
	}

	id, err := device.ParseDeviceID(sinkID)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return 0, nil, nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 2
	cfg.Playback.DeviceID = &id
	cfg.PeriodSizeInMilliseconds = 10

	nativeRate := cfg.SampleRate
	if nativeRate == 0 {
		nativeRate = 48000
	}
	cfg.SampleRate = nativeRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			frames := b.frameBuf(int(frameCount))
			b.renderInto(frames)
			framesToBytesLE(frames, out)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return 0, nil, nil, fmt.Errorf("init playback device: %w", err)
	}

	return int(nativeRate), ctx, dev, nil
}

func framesToBytesLE(frames [][2]float32, out []byte) {
	n := len(frames)
	if n*8 > len(out) {
		n = len(out) / 8
	}
	for i := 0; i < n; i++ {
		putF32LE(out[i*8:], frames[i][0])
		putF32LE(out[i*8+4:], frames[i][1])
	}
}

func putF32LE(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}
