package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-tales/core/audio"
	"github.com/koscakluka/ema-tales/core/audio/miniaudio"
	"github.com/koscakluka/ema-tales/core/audio/portaudio"
	"github.com/koscakluka/ema-tales/core/speech"
	"github.com/koscakluka/ema-tales/core/speech/deepgram"
	"github.com/koscakluka/ema-tales/core/speech/polly"
	"github.com/koscakluka/ema-tales/internal/config"
)

const (
	portaudioBufferSize = 1024
	closeTimeout        = 3 * time.Second
)

// narrator is the speech manager together with the audio device it plays
// through.
type narrator struct {
	*speech.Manager
	closePlayer func()
}

type closablePlayer interface {
	audio.Player
	Close()
}

func newNarrator(ctx context.Context, cfg config.NarrationConfig) (*narrator, error) {
	player, err := openPlayer(cfg)
	if err != nil {
		return nil, err
	}

	var factory speech.EngineFactory
	switch strings.ToLower(cfg.Engine) {
	case config.SpeechEngineDeepgram:
		factory = deepgram.NewSynthesizer(player,
			deepgram.WithAPIKey(cfg.Deepgram.APIKey),
			deepgram.WithVoice(cfg.Deepgram.Voice),
		).NewEngine
	default:
		factory = polly.NewSynthesizer(polly.Config{
			Region:       cfg.Polly.Region,
			VoiceID:      cfg.Polly.VoiceID,
			Engine:       cfg.Polly.Engine,
			LanguageCode: cfg.Polly.Language,
		}, player).NewEngine
	}

	manager := speech.NewManager(factory,
		speech.WithRate(cfg.Rate),
		speech.WithStateCallback(func(state speech.State) {
			logger.DebugContext(ctx, "narration state changed", "state", state.String())
		}),
	)
	return &narrator{Manager: manager, closePlayer: player.Close}, nil
}

func openPlayer(cfg config.NarrationConfig) (closablePlayer, error) {
	switch strings.ToLower(cfg.Audio) {
	case config.AudioBackendPortaudio:
		player, err := portaudio.NewPlayer(cfg.SampleRate, portaudioBufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio output: %w", err)
		}
		return player, nil
	default:
		player, err := miniaudio.NewPlayer(cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio output: %w", err)
		}
		return player, nil
	}
}

// Close stops speaking, waits for the worker and releases the device.
func (n *narrator) Close() {
	n.Manager.Close()
	select {
	case <-n.Manager.Done():
	case <-time.After(closeTimeout):
		logger.Warn("narration worker did not stop in time")
	}
	n.closePlayer()
}
