package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-tales/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrIncompleteStream is returned when the response body ends before the
// final [DONE] event, usually because the connection was cut.
var ErrIncompleteStream = errors.New("stream ended before completion")

// PromptWithStream prepares a streamed completion for the prompt appended to
// the history passed through options. The request is only sent once the
// returned stream's chunks are consumed.
func (c *Client) PromptWithStream(
	_ context.Context,
	prompt *string,
	opts ...llms.StreamingPromptOption,
) llms.Stream {
	options := llms.StreamingPromptOptions{
		PromptOptions: llms.PromptOptions{Temperature: c.temperature},
	}
	for _, opt := range opts {
		opt.ApplyToStreaming(&options)
	}

	messages := toMessages(options.Instructions, options.Messages)
	if prompt != nil {
		messages = append(messages, message{
			Role:    string(llms.RoleUser),
			Content: *prompt,
		})
	}

	return &Stream{
		client:      c,
		model:       c.model,
		temperature: options.Temperature,
		messages:    messages,
	}
}

type Stream struct {
	client *Client

	model       string
	temperature *float64
	messages    []message
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.model))
		span.SetAttributes(attribute.Int("request.messages", len(s.messages)))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		reqBody := requestBody{
			Model:         s.model,
			Messages:      s.messages,
			Stream:        true,
			Temperature:   s.temperature,
			StreamOptions: &streamOptions{IncludeUsage: true},
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.endpoint(), bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}
		s.client.newRequestHeaders(req)
		req.Header.Set("Accept", "text/event-stream")

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			fail(readStatusError(resp))
			return
		}

		outputChars := 0
		defer func() {
			span.SetAttributes(attribute.Int("response.chars", outputChars))
		}()

		finished := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if len(line) == 0 || strings.HasPrefix(line, ":") {
				// blank separators and SSE keep-alive comments
				continue
			}
			if !strings.HasPrefix(line, chunkPrefix) {
				continue
			}
			chunk := strings.TrimSpace(strings.TrimPrefix(line, chunkPrefix))
			setRequestToFirstTokenTime(span)

			if chunk == endMessage {
				finished = true
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				fail(fmt.Errorf("error unmarshalling JSON: %w", err))
				return
			}

			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]

				if choice.Delta.Role != "" {
					if !yield(StreamRoleChunk{finishReason: choice.FinishReason, role: choice.Delta.Role}, nil) {
						return
					}
				}

				if choice.Delta.ReasoningContent != "" {
					if !yield(StreamReasoningChunk{finishReason: choice.FinishReason, reasoning: choice.Delta.ReasoningContent}, nil) {
						return
					}
				}

				if choice.Delta.Content != "" {
					outputChars += len([]rune(choice.Delta.Content))
					if !yield(StreamContentChunk{finishReason: choice.FinishReason, content: choice.Delta.Content}, nil) {
						return
					}
				}
			}

			if responseBody.Usage != nil {
				span.SetAttributes(attribute.Int("usage.input", responseBody.Usage.PromptTokens))
				span.SetAttributes(attribute.Int("usage.output", responseBody.Usage.CompletionTokens))
				span.SetAttributes(attribute.Int("usage.total", responseBody.Usage.TotalTokens))
				if !yield(StreamUsageChunk{usage: responseBody.Usage.toLLMs()}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
		}
		if !finished {
			fail(ErrIncompleteStream)
		}
	}
}

func readStatusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	var errorBody errorResponseBody
	if json.Unmarshal(body, &errorBody) == nil && errorBody.Error.Message != "" {
		return fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, errorBody.Error.Message)
	}
	return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
}

type StreamRoleChunk struct {
	finishReason *string
	role         string
}

func (s StreamRoleChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamRoleChunk) Role() string {
	return s.role
}

type StreamReasoningChunk struct {
	finishReason *string
	reasoning    string
}

func (s StreamReasoningChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamReasoningChunk) Reasoning() string {
	return s.reasoning
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
