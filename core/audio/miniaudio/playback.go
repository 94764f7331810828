package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-tales/core/audio"
)

type playbackClient struct {
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	deviceMu sync.Mutex

	// mu guards the queued audio and the marks placed in it.
	mu            sync.Mutex
	leftoverAudio []byte
	marks         []playbackMark
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	if encodingInfo.Format != audio.EncodingLinear16 {
		return fmt.Errorf("unsupported playback format %q", encodingInfo.Format)
	}

	sampleRate := uint32(encodingInfo.SampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.encodingInfo = encodingInfo
	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	var err error
	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return err
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Uninit() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}
	c.device.Uninit()
	c.device = nil

	c.ClearBuffer()
	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.deviceMu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.deviceMu.Unlock()
	if !started {
		return fmt.Errorf("device not started")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.leftoverAudio = append(c.leftoverAudio, audio...)
	return nil
}

func (c *playbackClient) Mark(name string, callback func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.marks = append(c.marks, playbackMark{
		name:     name,
		position: len(c.leftoverAudio),
		callback: callback,
	})
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.leftoverAudio = nil
	c.marks = nil
}

func (c *playbackClient) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.mu.Lock()
		n := copy(pOutput[:need], c.leftoverAudio)
		c.leftoverAudio = c.leftoverAudio[n:]
		passed := c.passMarks(need)
		c.mu.Unlock()

		clear(pOutput[n:need])

		if len(passed) > 0 {
			go func() {
				for _, mark := range passed {
					mark.callback(mark.name)
				}
			}()
		}
	}
}

// passMarks moves every mark forward by consumed bytes and returns the ones
// playback went past. Callers hold mu.
func (c *playbackClient) passMarks(consumed int) []playbackMark {
	passed := 0
	for i := range c.marks {
		if c.marks[i].position >= consumed {
			c.marks[i].position -= consumed
			continue
		}
		passed++
	}
	if passed == 0 {
		return nil
	}

	toCall := c.marks[:passed]
	c.marks = c.marks[passed:]
	return toCall
}
