// Package miniaudio plays speech through the default output device using
// miniaudio.
package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-tales/core/audio"
)

type Player struct {
	// audioContext is only kept so it can be released on Close.
	audioContext *malgo.AllocatedContext
	playbackClient
}

// NewPlayer opens and starts the default playback device for mono linear16
// audio. A zero sampleRate picks the default.
func NewPlayer(sampleRate int) (*Player, error) {
	encodingInfo := audio.DefaultEncodingInfo()
	if sampleRate > 0 {
		encodingInfo.SampleRate = sampleRate
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}

	player := &Player{audioContext: audioCtx}

	if err := player.playbackClient.Init(audioCtx, encodingInfo); err != nil {
		player.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := player.playbackClient.Start(); err != nil {
		player.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return player, nil
}

func (p *Player) Close() {
	_ = p.playbackClient.Uninit()
	_ = p.audioContext.Uninit()
	p.audioContext.Free()
}
