package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-tales/core/audio"
	"github.com/koscakluka/ema-tales/core/speech"
)

type fakePlayer struct {
	mu      sync.Mutex
	audio   []byte
	cleared int
}

func (p *fakePlayer) SendAudio(audio []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = append(p.audio, audio...)
	return nil
}

// Mark fires right away, as if playback kept up with the stream.
func (p *fakePlayer) Mark(name string, callback func(string)) error {
	callback(name)
	return nil
}

func (p *fakePlayer) ClearBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

func (p *fakePlayer) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16}
}

// fakeSpeakServer answers every Flush with a bit of audio and a Flushed
// message, and records what the client sent.
type fakeSpeakServer struct {
	*httptest.Server

	mu       sync.Mutex
	messages []websocketMessage
	query    string
	auth     string
	closed   chan struct{}
}

func newFakeSpeakServer(t *testing.T) *fakeSpeakServer {
	t.Helper()
	s := &fakeSpeakServer{closed: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.query = r.URL.RawQuery
		s.auth = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(s.closed)

		for {
			var msg websocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, msg)
			s.mu.Unlock()

			switch msg.Type {
			case "Flush":
				_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320))
				flushed, _ := json.Marshal(websocketMessage{Type: "Flushed"})
				_ = conn.WriteMessage(websocket.TextMessage, flushed)
			case "Close":
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeSpeakServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *fakeSpeakServer) received() []websocketMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]websocketMessage(nil), s.messages...)
}

func newTestEngine(t *testing.T, server *fakeSpeakServer, player *fakePlayer) speech.Engine {
	t.Helper()
	synth := NewSynthesizer(player, WithAPIKey("secret"), WithURL(server.url()), WithVoice("aura-test"))
	engine, err := synth.NewEngine(context.Background(), speech.Settings{Rate: speech.DefaultRate})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	return engine
}

func TestSynthesize_SpeaksSentenceBySentence(t *testing.T) {
	server := newFakeSpeakServer(t)
	player := &fakePlayer{}
	engine := newTestEngine(t, server, player)

	var units []speech.Unit
	err := engine.Synthesize(context.Background(), "门开了。里面很黑！\n你要进去吗？", func(unit speech.Unit) bool {
		units = append(units, unit)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected synthesis error: %v", err)
	}

	expected := []string{"门开了。", "里面很黑！", "你要进去吗？"}
	if len(units) != len(expected) {
		t.Fatalf("expected %d units, got %+v", len(expected), units)
	}
	for i, unit := range units {
		if unit.Text != expected[i] || unit.Index != i {
			t.Fatalf("expected unit %d to be %q, got %+v", i, expected[i], unit)
		}
	}

	select {
	case <-server.closed:
	case <-time.After(time.Second):
		t.Fatalf("expected the stream to be closed")
	}

	var speak []string
	for _, msg := range server.received() {
		if msg.Type == "Speak" {
			speak = append(speak, msg.Text)
		}
	}
	if strings.Join(speak, "|") != strings.Join(expected, "|") {
		t.Fatalf("expected speak messages %v, got %v", expected, speak)
	}

	player.mu.Lock()
	queued := len(player.audio)
	player.mu.Unlock()
	if queued != 3*320 {
		t.Fatalf("expected 960 bytes of audio, got %d", queued)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.auth != "token secret" {
		t.Fatalf("expected token auth header, got %q", server.auth)
	}
	for _, part := range []string{"encoding=linear16", "sample_rate=16000", "model=aura-test", "container=none"} {
		if !strings.Contains(server.query, part) {
			t.Fatalf("expected query to contain %s, got %s", part, server.query)
		}
	}
}

func TestSynthesize_RefusedUnitClearsStream(t *testing.T) {
	server := newFakeSpeakServer(t)
	player := &fakePlayer{}
	engine := newTestEngine(t, server, player)

	err := engine.Synthesize(context.Background(), "一。二。三。", func(unit speech.Unit) bool {
		return false
	})
	if err != nil {
		t.Fatalf("unexpected synthesis error: %v", err)
	}

	select {
	case <-server.closed:
	case <-time.After(time.Second):
		t.Fatalf("expected the stream to be closed")
	}

	var sawClear bool
	for _, msg := range server.received() {
		if msg.Type == "Clear" {
			sawClear = true
		}
		if msg.Type == "Speak" && msg.Text != "一。" {
			t.Fatalf("expected synthesis to stop after the first sentence, got %q", msg.Text)
		}
	}
	if !sawClear {
		t.Fatalf("expected a Clear message after the refusal")
	}

	player.mu.Lock()
	defer player.mu.Unlock()
	if player.cleared == 0 {
		t.Fatalf("expected the player buffer to be cleared")
	}
}

func TestSynthesize_StopBeforeStartReturns(t *testing.T) {
	server := newFakeSpeakServer(t)
	engine := newTestEngine(t, server, &fakePlayer{})
	_ = engine.Stop()
	_ = engine.Close()

	done := make(chan error, 1)
	go func() {
		done <- engine.Synthesize(context.Background(), "不会说完的一句话。", func(speech.Unit) bool { return true })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a stopped engine to return cleanly, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a stopped engine")
	}
}

func TestNewEngine_RequiresAPIKey(t *testing.T) {
	synth := NewSynthesizer(&fakePlayer{}, WithAPIKey(""))
	if _, err := synth.NewEngine(context.Background(), speech.Settings{}); err == nil {
		t.Fatalf("expected an error without an api key")
	}
}
