// Package polly narrates through Amazon Polly. Each utterance is synthesized
// twice: once for word speech marks and once for PCM audio, the marks are
// then placed into the audio so progress can be followed word by word.
package polly

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/koscakluka/ema-tales/core/audio"
	"github.com/koscakluka/ema-tales/core/speech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRegion = "us-east-1"
	defaultVoice  = "Zhiyu"
	defaultEngine = "neural"

	playbackGrace = 2 * time.Second

	// Polly refuses requests above 3000 billed characters. Escaping can grow
	// the text, so groups stay well below that.
	maxRequestRunes = 1500
)

var (
	ErrThrottled   = errors.New("polly is throttling requests")
	ErrRejected    = errors.New("polly rejected the request")
	ErrUnavailable = errors.New("polly is unavailable")
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region       string
	VoiceID      string
	Engine       string
	LanguageCode string
}

// Synthesizer hands out one engine per utterance, all sharing a Polly client
// and a player.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
	player audio.Player
}

func NewSynthesizer(cfg Config, player audio.Player) *Synthesizer {
	return NewSynthesizerWithClient(cfg, player, nil)
}

func NewSynthesizerWithClient(cfg Config, player audio.Player, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = defaultVoice
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = defaultEngine
	}
	return &Synthesizer{client: client, cfg: cfg, player: player}
}

// NewEngine satisfies speech.EngineFactory.
func (s *Synthesizer) NewEngine(_ context.Context, settings speech.Settings) (speech.Engine, error) {
	if s.player == nil {
		return nil, fmt.Errorf("polly synthesizer has no audio player")
	}
	return &engine{synth: s, rate: settings.Rate, stop: make(chan struct{})}, nil
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

type engine struct {
	synth    *Synthesizer
	rate     int
	stop     chan struct{}
	stopOnce sync.Once
}

type speechMark struct {
	Time  int64  `json:"time"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (e *engine) Synthesize(ctx context.Context, text string, onUnit func(speech.Unit) bool) (err error) {
	ctx, span := tracer.Start(ctx, "polly synthesize", trace.WithAttributes(
		attribute.String("polly.voice", e.synth.cfg.VoiceID),
		attribute.Int("polly.text_length", len(text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	player := e.synth.player
	info := player.EncodingInfo()
	if info.Format != audio.EncodingLinear16 || (info.SampleRate != 8000 && info.SampleRate != 16000) {
		return fmt.Errorf("polly cannot produce %s audio at %d Hz", info.Format, info.SampleRate)
	}

	client, err := e.synth.resolveClient(ctx)
	if err != nil {
		return err
	}

	groups := speech.GroupSentences(text, maxRequestRunes)
	span.SetAttributes(attribute.Int("polly.requests", len(groups)*2))
	if len(groups) == 0 {
		return nil
	}

	p := &playback{
		player: player,
		info:   info,
		units:  make(chan speech.Unit),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	defer p.abandon()

	fed := make(chan feedResult, 1)
	go func() { fed <- e.feed(ctx, client, p, groups) }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	var timeout <-chan time.Time

	interrupt := func() {
		p.abandon()
		player.ClearBuffer()
	}

	for {
		select {
		case <-ctx.Done():
			interrupt()
			return ctx.Err()
		case <-e.stop:
			interrupt()
			return nil
		case result := <-fed:
			fed = nil
			if result.err != nil {
				interrupt()
				return result.err
			}
			span.SetAttributes(attribute.Int("polly.words", result.words), attribute.Int("polly.audio_bytes", result.audioBytes))
			timer = time.NewTimer(info.Duration(result.audioBytes) + playbackGrace)
			timeout = timer.C
		case <-timeout:
			interrupt()
			return fmt.Errorf("playback did not finish in time")
		case <-p.ended:
			return nil
		case unit := <-p.units:
			if !onUnit(unit) {
				interrupt()
				return nil
			}
		}
	}
}

type feedResult struct {
	words      int
	audioBytes int
	err        error
}

// feed synthesizes groups one after another and queues each as soon as it
// arrives, so later groups are fetched while earlier ones play.
func (e *engine) feed(ctx context.Context, client synthClient, p *playback, groups []string) (result feedResult) {
	for _, group := range groups {
		select {
		case <-p.done:
			return result
		case <-e.stop:
			return result
		default:
		}

		marks, err := e.speechMarks(ctx, client, group)
		if err != nil {
			result.err = err
			return result
		}
		pcm, err := e.audio(ctx, client, group, p.info.SampleRate)
		if err != nil {
			result.err = err
			return result
		}

		queued, err := p.enqueue(pcm, marks, result.words)
		if err != nil || !queued {
			result.err = err
			return result
		}
		result.words += len(marks)
		result.audioBytes += len(pcm)
	}
	p.finish()
	return result
}

// playback hands the audio of one utterance to the player and turns playback
// marks into units. Once abandoned nothing more is queued.
type playback struct {
	player audio.Player
	info   audio.EncodingInfo
	units  chan speech.Unit
	ended  chan struct{}

	// mu is held while audio is queued so abandon can wait for it.
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (p *playback) abandon() {
	p.closeOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	p.mu.Unlock()
}

func (p *playback) abandoned() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// enqueue queues pcm with a mark in front of every word. Word indexes start
// at base. It reports false when playback was abandoned.
func (p *playback) enqueue(pcm []byte, marks []speechMark, base int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned() {
		return false, nil
	}

	pos := 0
	for i, mark := range marks {
		offset := min(max(p.info.ByteOffset(time.Duration(mark.Time)*time.Millisecond), pos), len(pcm))
		if offset > pos {
			if err := p.player.SendAudio(pcm[pos:offset]); err != nil {
				return false, fmt.Errorf("failed to queue audio: %w", err)
			}
			pos = offset
		}
		unit := speech.Unit{Text: mark.Value, Index: base + i}
		_ = p.player.Mark(strconv.Itoa(unit.Index), func(string) {
			select {
			case p.units <- unit:
			case <-p.done:
			}
		})
	}
	if err := p.player.SendAudio(pcm[pos:]); err != nil {
		return false, fmt.Errorf("failed to queue audio: %w", err)
	}
	return true, nil
}

// finish marks the end of the utterance.
func (p *playback) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned() {
		return
	}
	_ = p.player.Mark("end", func(string) {
		select {
		case p.ended <- struct{}{}:
		case <-p.done:
		}
	})
}

func (e *engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stop) })
	return nil
}

func (e *engine) Close() error {
	return e.Stop()
}

func (e *engine) speechMarks(ctx context.Context, client synthClient, text string) ([]speechMark, error) {
	input := e.input(text)
	input.OutputFormat = pollytypes.OutputFormatJson
	input.SpeechMarkTypes = []pollytypes.SpeechMarkType{pollytypes.SpeechMarkTypeWord}

	body, err := e.request(ctx, client, input)
	if err != nil {
		return nil, err
	}
	return parseSpeechMarks(body)
}

func (e *engine) audio(ctx context.Context, client synthClient, text string, sampleRate int) ([]byte, error) {
	input := e.input(text)
	input.OutputFormat = pollytypes.OutputFormatPcm
	input.SampleRate = aws.String(strconv.Itoa(sampleRate))

	return e.request(ctx, client, input)
}

func (e *engine) request(ctx context.Context, client synthClient, input *polly.SynthesizeSpeechInput) ([]byte, error) {
	output, err := client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	defer output.AudioStream.Close()

	body, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("failed to read polly response: %w", err)
	}
	return body, nil
}

func (e *engine) input(text string) *polly.SynthesizeSpeechInput {
	engineType := pollytypes.EngineStandard
	if strings.EqualFold(e.synth.cfg.Engine, "neural") {
		engineType = pollytypes.EngineNeural
	}

	input := &polly.SynthesizeSpeechInput{
		Engine:   engineType,
		Text:     aws.String(toSSML(text, e.rate)),
		TextType: pollytypes.TextTypeSsml,
		VoiceId:  pollytypes.VoiceId(e.synth.cfg.VoiceID),
	}
	if e.synth.cfg.LanguageCode != "" {
		input.LanguageCode = pollytypes.LanguageCode(e.synth.cfg.LanguageCode)
	}
	return input
}

// toSSML wraps text in a prosody tag matching the speaking rate, relative to
// the default rate.
func toSSML(text string, wordsPerMinute int) string {
	percent := 100
	if wordsPerMinute > 0 {
		percent = min(max(wordsPerMinute*100/speech.DefaultRate, 20), 200)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<speak><prosody rate="%d%%">`, percent)
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString(`</prosody></speak>`)
	return b.String()
}

func parseSpeechMarks(body []byte) ([]speechMark, error) {
	var marks []speechMark
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var mark speechMark
		if err := json.Unmarshal(line, &mark); err != nil {
			return nil, fmt.Errorf("failed to decode speech mark: %w", err)
		}
		if mark.Type == string(pollytypes.SpeechMarkTypeWord) {
			marks = append(marks, mark)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read speech marks: %w", err)
	}
	return marks, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException":
			return fmt.Errorf("%w: %w", ErrRejected, err)
		default:
			logger.Warn("unexpected polly error", "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("polly request failed: %w", err)
}
