package polly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	pollysdk "github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/koscakluka/ema-tales/core/audio"
	"github.com/koscakluka/ema-tales/core/speech"
)

const testMarks = `{"time":0,"type":"word","start":0,"end":2,"value":"门"}
{"time":100,"type":"sentence","start":0,"end":6,"value":"门开了"}
{"time":250,"type":"word","start":2,"end":4,"value":"开"}
{"time":500,"type":"word","start":4,"end":6,"value":"了"}
`

type fakePollyClient struct {
	mu     sync.Mutex
	inputs []*pollysdk.SynthesizeSpeechInput
	pcm    []byte
	err    error
	// maxChars rejects longer requests the way Polly does. wordMarks answers
	// mark requests with one word mark per word of the request.
	maxChars  int
	wordMarks bool
}

func (f *fakePollyClient) SynthesizeSpeech(_ context.Context, params *pollysdk.SynthesizeSpeechInput, _ ...func(*pollysdk.Options)) (*pollysdk.SynthesizeSpeechOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, params)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.maxChars > 0 && utf8.RuneCountInString(*params.Text) > f.maxChars {
		return nil, fakeAPIError{code: "TextLengthExceededException", msg: "text too long"}
	}
	body := f.pcm
	if params.OutputFormat == types.OutputFormatJson {
		body = []byte(testMarks)
		if f.wordMarks {
			body = wordMarksFor(*params.Text)
		}
	}
	return &pollysdk.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader(body))}, nil
}

func wordMarksFor(ssml string) []byte {
	text := ssml[strings.Index(ssml, `">`)+2 : strings.LastIndex(ssml, "</prosody>")]
	var b bytes.Buffer
	for _, word := range strings.Fields(text) {
		fmt.Fprintf(&b, `{"time":0,"type":"word","value":%q}`+"\n", word)
	}
	return b.Bytes()
}

type fakeAPIError struct {
	code string
	msg  string
}

func (e fakeAPIError) Error() string                 { return e.code + ": " + e.msg }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.msg }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

// fakePlayer records queued audio. With autoplay set every mark fires as soon
// as it is placed.
type fakePlayer struct {
	mu       sync.Mutex
	autoplay bool
	audio    []byte
	marks    []string
	cleared  int
}

func (p *fakePlayer) SendAudio(audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = append(p.audio, audio...)
	return nil
}

func (p *fakePlayer) Mark(name string, callback func(string)) error {
	p.mu.Lock()
	p.marks = append(p.marks, name)
	autoplay := p.autoplay
	p.mu.Unlock()

	if autoplay {
		callback(name)
	}
	return nil
}

func (p *fakePlayer) ClearBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

func (p *fakePlayer) EncodingInfo() audio.EncodingInfo {
	return audio.DefaultEncodingInfo()
}

func newTestEngine(t *testing.T, client *fakePollyClient, player *fakePlayer) speech.Engine {
	t.Helper()

	engine, err := NewSynthesizerWithClient(Config{}, player, client).NewEngine(context.Background(), speech.Settings{Rate: 200})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func TestSynthesizeReportsEveryWord(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 32000)}
	player := &fakePlayer{autoplay: true}
	engine := newTestEngine(t, client, player)

	var words []string
	err := engine.Synthesize(context.Background(), "门开了", func(unit speech.Unit) bool {
		words = append(words, unit.Text)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Join(words, "") != "门开了" {
		t.Fatalf("expected word units in order, got %v", words)
	}
	if len(player.audio) != 32000 {
		t.Fatalf("expected all audio to be queued, got %d bytes", len(player.audio))
	}
	if len(player.marks) != 4 || player.marks[3] != "end" {
		t.Fatalf("expected one mark per word plus an end mark, got %v", player.marks)
	}
	if player.cleared != 0 {
		t.Fatalf("expected playback not to be cleared")
	}
}

func TestSynthesizeSplitsLongTextIntoAcceptedRequests(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 100), maxChars: 3000, wordMarks: true}
	player := &fakePlayer{autoplay: true}
	engine := newTestEngine(t, client, player)

	var words []string
	for i := 0; len(strings.Join(words, " ")) < 10000; i++ {
		words = append(words, fmt.Sprintf("w%d.", i))
	}
	text := strings.Join(words, " ")

	var units []speech.Unit
	err := engine.Synthesize(context.Background(), text, func(unit speech.Unit) bool {
		units = append(units, unit)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(units) != len(words) {
		t.Fatalf("expected %d units, got %d", len(words), len(units))
	}
	for i, unit := range units {
		if unit.Index != i || unit.Text != words[i] {
			t.Fatalf("expected unit %d to be %q, got %+v", i, words[i], unit)
		}
	}
	if len(client.inputs) < 8 || len(client.inputs)%2 != 0 {
		t.Fatalf("expected several mark and audio request pairs, got %d requests", len(client.inputs))
	}
	if len(player.audio) != 100*len(client.inputs)/2 {
		t.Fatalf("expected audio of every request to be queued, got %d bytes", len(player.audio))
	}
	if player.marks[len(player.marks)-1] != "end" || player.cleared != 0 {
		t.Fatalf("expected one uninterrupted utterance, got marks ending %q and %d clears", player.marks[len(player.marks)-1], player.cleared)
	}
}

func TestSynthesizeRefusalStopsLaterRequests(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 100), wordMarks: true}
	player := &fakePlayer{autoplay: true}
	engine := newTestEngine(t, client, player)

	text := strings.Repeat("一句话。", 1000)
	err := engine.Synthesize(context.Background(), text, func(speech.Unit) bool { return false })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.mu.Lock()
	requests := len(client.inputs)
	client.mu.Unlock()
	if requests > 4 {
		t.Fatalf("expected requests to stop after the refused unit, got %d", requests)
	}
	if player.cleared == 0 {
		t.Fatalf("expected queued audio to be cleared")
	}
}

func TestSynthesizeRequestsMarksAndPCM(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 100)}
	engine := newTestEngine(t, client, &fakePlayer{autoplay: true})

	if err := engine.Synthesize(context.Background(), "a < b", func(speech.Unit) bool { return true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.inputs) != 2 {
		t.Fatalf("expected two requests, got %d", len(client.inputs))
	}
	marks, pcm := client.inputs[0], client.inputs[1]
	if marks.OutputFormat != types.OutputFormatJson || len(marks.SpeechMarkTypes) != 1 || marks.SpeechMarkTypes[0] != types.SpeechMarkTypeWord {
		t.Fatalf("unexpected speech mark request: %+v", marks)
	}
	if pcm.OutputFormat != types.OutputFormatPcm || pcm.SampleRate == nil || *pcm.SampleRate != "16000" {
		t.Fatalf("unexpected audio request: %+v", pcm)
	}
	if pcm.TextType != types.TextTypeSsml || !strings.Contains(*pcm.Text, "a &lt; b") || !strings.Contains(*pcm.Text, `rate="100%"`) {
		t.Fatalf("unexpected ssml %q", *pcm.Text)
	}
	if pcm.VoiceId != types.VoiceId(defaultVoice) || pcm.Engine != types.EngineNeural {
		t.Fatalf("expected default voice and engine, got %s %s", pcm.VoiceId, pcm.Engine)
	}
}

func TestSynthesizeStopsWhenUnitIsRefused(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 32000)}
	player := &fakePlayer{autoplay: true}
	engine := newTestEngine(t, client, player)

	var seen int
	err := engine.Synthesize(context.Background(), "门开了", func(speech.Unit) bool {
		seen++
		return seen < 2
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected synthesis to stop at the refused unit, got %d units", seen)
	}
	if player.cleared != 1 {
		t.Fatalf("expected queued audio to be cleared, got %d clears", player.cleared)
	}
}

func TestStopInterruptsPlayback(t *testing.T) {
	client := &fakePollyClient{pcm: make([]byte, 32000)}
	player := &fakePlayer{}
	engine := newTestEngine(t, client, player)

	done := make(chan error, 1)
	go func() {
		done <- engine.Synthesize(context.Background(), "门开了", func(speech.Unit) bool { return true })
	}()

	time.Sleep(20 * time.Millisecond)
	if err := engine.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a stopped synthesis to return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for synthesis to stop")
	}
}

func TestSynthesizeErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "throttled", err: fakeAPIError{code: "ThrottlingException"}, expected: ErrThrottled},
		{name: "rejected", err: fakeAPIError{code: "TextLengthExceededException"}, expected: ErrRejected},
		{name: "server", err: fakeAPIError{code: "ServiceFailureException"}, expected: ErrUnavailable},
		{name: "cancelled", err: context.Canceled, expected: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, &fakePollyClient{err: tt.err}, &fakePlayer{autoplay: true})
			err := engine.Synthesize(context.Background(), "x", func(speech.Unit) bool { return true })
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestToSSMLClampsRate(t *testing.T) {
	if got := toSSML("x", 1000); !strings.Contains(got, `rate="200%"`) {
		t.Fatalf("expected rate to be clamped, got %q", got)
	}
	if got := toSSML("x", 0); !strings.Contains(got, `rate="100%"`) {
		t.Fatalf("expected default rate, got %q", got)
	}
}
