package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-tales/core/llms"
)

func TestToMessages_PrependsInstructionsAndKeepsOrder(t *testing.T) {
	messages := toMessages("be brief", []llms.Message{
		llms.SystemMessage("rules"),
		llms.UserMessage("look around"),
		llms.AssistantMessage("A dark hall."),
	})

	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "be brief" {
		t.Fatalf("unexpected instructions message: %+v", messages[0])
	}
	if messages[2].Role != "user" || messages[2].Content != "look around" {
		t.Fatalf("unexpected user message: %+v", messages[2])
	}
	if messages[3].Role != "assistant" || messages[3].Content != "A dark hall." {
		t.Fatalf("unexpected assistant message: %+v", messages[3])
	}
}

func TestStreamChunks_YieldsContentInOrder(t *testing.T) {
	var received requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"He"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"llo"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithModel("test-model"), WithHTTPClient(server.Client()))
	prompt := "hi"
	stream := client.PromptWithStream(context.Background(), &prompt,
		llms.WithMessages(llms.SystemMessage("rules")),
		llms.WithTemperature(0.5),
	)

	var text strings.Builder
	var usage *llms.Usage
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		switch c := chunk.(type) {
		case llms.StreamContentChunk:
			text.WriteString(c.Content())
		case llms.StreamUsageChunk:
			u := c.Usage()
			usage = &u
		}
	}

	if text.String() != "Hello" {
		t.Fatalf("expected streamed text %q, got %q", "Hello", text.String())
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Fatalf("expected usage with 5 total tokens, got %+v", usage)
	}
	if received.Model != "test-model" || !received.Stream {
		t.Fatalf("unexpected request body: %+v", received)
	}
	if received.Temperature == nil || *received.Temperature != 0.5 {
		t.Fatalf("expected temperature 0.5, got %v", received.Temperature)
	}
	if len(received.Messages) != 2 || received.Messages[1].Content != "hi" {
		t.Fatalf("expected history followed by prompt, got %+v", received.Messages)
	}
}

func TestStreamChunks_ReportsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
	}))
	defer server.Close()

	client := NewClient("nope", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hi"

	var streamErr error
	for _, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			streamErr = err
			break
		}
	}

	if streamErr == nil {
		t.Fatalf("expected an error for a non-OK status")
	}
	if !strings.Contains(streamErr.Error(), "bad key") {
		t.Fatalf("expected provider message in error, got %v", streamErr)
	}
}

func TestStreamChunks_ReportsCutConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hal"}}]}`+"\n\n")
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hi"

	var text strings.Builder
	var streamErr error
	for chunk, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			streamErr = err
			break
		}
		if c, ok := chunk.(llms.StreamContentChunk); ok {
			text.WriteString(c.Content())
		}
	}

	if text.String() != "Hal" {
		t.Fatalf("expected the partial text to be streamed, got %q", text.String())
	}
	if !errors.Is(streamErr, ErrIncompleteStream) {
		t.Fatalf("expected ErrIncompleteStream, got %v", streamErr)
	}
}

func TestPromptStructured_UsesJSONObjectAndStripsFence(t *testing.T) {
	var received requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"`+"```json\\n{\\\"a\\\":\\\"b\\\"}\\n```"+`"}}]}`)
	}))
	defer server.Close()

	client := NewClient("secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	content, err := client.PromptStructured(context.Background(), "status please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if content != `{"a":"b"}` {
		t.Fatalf("expected fenced JSON to be unwrapped, got %q", content)
	}
	if received.ResponseFormat == nil || received.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", received.ResponseFormat)
	}
	if received.Stream {
		t.Fatalf("structured prompts must not stream")
	}
}
