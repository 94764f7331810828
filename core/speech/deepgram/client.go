// Package deepgram narrates through Deepgram's streaming text-to-speech
// websocket. Text is spoken sentence by sentence, each sentence is flushed on
// its own so progress and interruption work at sentence granularity.
package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-tales/core/audio"
	"github.com/koscakluka/ema-tales/core/speech"
)

const (
	DefaultVoice = "aura-2-thalia-en"
	defaultURL   = "wss://api.deepgram.com/v1/speak"
)

type Synthesizer struct {
	apiKey   string
	voice    string
	endpoint string
	player   audio.Player
	dialer   *websocket.Dialer
}

type SynthesizerOption func(*Synthesizer)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) SynthesizerOption {
	return func(s *Synthesizer) {
		s.apiKey = apiKey
	}
}

func WithVoice(voice string) SynthesizerOption {
	return func(s *Synthesizer) {
		if voice != "" {
			s.voice = voice
		}
	}
}

// WithURL points the synthesizer at another speak endpoint.
func WithURL(endpoint string) SynthesizerOption {
	return func(s *Synthesizer) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

func NewSynthesizer(player audio.Player, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		apiKey:   os.Getenv("DEEPGRAM_API_KEY"),
		voice:    DefaultVoice,
		endpoint: defaultURL,
		player:   player,
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEngine satisfies speech.EngineFactory. The connection is only opened
// once the engine starts synthesizing.
func (s *Synthesizer) NewEngine(_ context.Context, _ speech.Settings) (speech.Engine, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}
	if s.player == nil {
		return nil, fmt.Errorf("deepgram synthesizer has no audio player")
	}
	return &engine{synth: s, stop: make(chan struct{})}, nil
}

func (s *Synthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	encodingInfo := s.player.EncodingInfo()

	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}
	query := endpoint.Query()
	query.Set("encoding", encodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	query.Set("model", s.voice)
	query.Set("container", "none")
	endpoint.RawQuery = query.Encode()

	conn, _, err := s.dialer.DialContext(ctx, endpoint.String(), http.Header{"Authorization": {"token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}
