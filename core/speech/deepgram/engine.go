package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-tales/core/speech"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/koscakluka/ema-tales/core/speech/deepgram"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

type websocketMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func speakMsg(text string) websocketMessage {
	return websocketMessage{Type: "Speak", Text: text}
}

type engine struct {
	synth    *Synthesizer
	stop     chan struct{}
	stopOnce sync.Once
}

func (e *engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stop) })
	return nil
}

func (e *engine) Close() error {
	return e.Stop()
}

// Synthesize requests one sentence at a time. The next sentence is only sent
// once the previous one was flushed, deepgram otherwise tends to drop text
// that follows a flush.
func (e *engine) Synthesize(ctx context.Context, text string, onUnit func(speech.Unit) bool) (err error) {
	sentences := speech.SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "deepgram synthesize", trace.WithAttributes(
		attribute.String("deepgram.voice", e.synth.voice),
		attribute.Int("deepgram.sentences", len(sentences)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	select {
	case <-e.stop:
		return nil
	default:
	}

	conn, err := e.synth.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	player := e.synth.player
	readDone := make(chan struct{})
	defer close(readDone)
	flushed := make(chan struct{}, len(sentences))
	readErr := make(chan error, 1)
	go e.read(conn, flushed, readErr, readDone)

	// Marks fire in playback order, the index past the last sentence marks
	// the end of the text.
	started := make(chan int, len(sentences)+1)
	speakNext := func(i int) error {
		_ = player.Mark(strconv.Itoa(i), func(string) { started <- i })
		if err := conn.WriteJSON(speakMsg(sentences[i])); err != nil {
			return fmt.Errorf("failed to send text to deepgram: %w", err)
		}
		if err := conn.WriteJSON(flushMsg); err != nil {
			return fmt.Errorf("failed to flush deepgram buffer: %w", err)
		}
		return nil
	}
	interrupt := func() {
		_ = conn.WriteJSON(clearMsg)
		_ = conn.WriteJSON(closeMsg)
		player.ClearBuffer()
	}
	// reached reports whether synthesis is over.
	reached := func(i int) bool {
		if i == len(sentences) {
			if err := conn.WriteJSON(closeMsg); err != nil {
				logger.Warn("failed to close deepgram stream", "error", err)
			}
			return true
		}
		if !onUnit(speech.Unit{Text: sentences[i], Index: i}) {
			interrupt()
			return true
		}
		return false
	}

	next := 0
	if err := speakNext(next); err != nil {
		return err
	}

	for {
		// Playback progress goes first so a refusal is seen before more text
		// is requested.
		select {
		case i := <-started:
			if reached(i) {
				return nil
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			interrupt()
			return ctx.Err()
		case <-e.stop:
			interrupt()
			return nil
		case err := <-readErr:
			player.ClearBuffer()
			return err
		case i := <-started:
			if reached(i) {
				return nil
			}
		case <-flushed:
			next++
			if next < len(sentences) {
				if err := speakNext(next); err != nil {
					player.ClearBuffer()
					return err
				}
				continue
			}
			_ = player.Mark("end", func(string) { started <- len(sentences) })
		}
	}
}

func (e *engine) read(conn *websocket.Conn, flushed chan<- struct{}, readErr chan<- error, done <-chan struct{}) {
	player := e.synth.player
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					readErr <- fmt.Errorf("deepgram connection failed: %w", err)
				}
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := player.SendAudio(msg); err != nil {
				readErr <- fmt.Errorf("failed to queue audio: %w", err)
				return
			}
		case websocket.TextMessage:
			var parsed websocketMessage
			if err := json.Unmarshal(msg, &parsed); err != nil {
				logger.Warn("failed to decode deepgram message", "error", err)
				continue
			}
			switch parsed.Type {
			case "Flushed":
				select {
				case flushed <- struct{}{}:
				case <-done:
					return
				}
			case "Warning", "Error":
				logger.Warn("deepgram reported a problem", "type", parsed.Type, "message", string(msg))
			}
		}
	}
}
