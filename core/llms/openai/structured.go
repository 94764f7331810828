package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-tales/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PromptStructured sends a non-streamed prompt that asks the model for JSON
// and returns the raw content of the reply. Parsing is left to the caller
// since models are not always strict about it.
func (c *Client) PromptStructured(
	ctx context.Context,
	prompt string,
	opts ...llms.StructuredPromptOption,
) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()

	options := llms.StructuredPromptOptions{
		PromptOptions: llms.PromptOptions{Temperature: c.temperature},
	}
	for _, opt := range opts {
		opt.ApplyToStructured(&options)
	}

	messages := toMessages(options.Instructions, options.Messages)
	messages = append(messages, message{
		Role:    string(llms.RoleUser),
		Content: prompt,
	})

	format := &responseFormat{Type: "json_object"}
	if options.ResponseFormat.Schema != nil {
		format = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   options.ResponseFormat.Name,
				Schema: options.ResponseFormat.Schema,
				Strict: options.ResponseFormat.Strict,
			},
		}
		if schemaString, err := options.ResponseFormat.Schema.MarshalJSON(); err == nil {
			span.SetAttributes(attribute.String("request.schema", string(schemaString)))
		}
	}

	reqBody := requestBody{
		Model:          c.model,
		Messages:       messages,
		Temperature:    options.Temperature,
		ResponseFormat: format,
	}
	span.SetAttributes(attribute.String("request.model", c.model))
	span.SetAttributes(attribute.String("request.response_format", format.Type))

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fail(fmt.Errorf("error marshalling JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return fail(fmt.Errorf("error creating HTTP request: %w", err))
	}
	c.newRequestHeaders(req)

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return fail(readStatusError(resp))
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("error reading response body: %w", err))
	}

	var responseBody completionResponseBody
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		return fail(fmt.Errorf("error unmarshalling response body: %w", err))
	}
	if len(responseBody.Choices) == 0 {
		return fail(fmt.Errorf("response contained no choices"))
	}
	if responseBody.Usage != nil {
		span.SetAttributes(attribute.Int("usage.total", responseBody.Usage.TotalTokens))
	}

	return stripCodeFence(responseBody.Choices[0].Message.Content), nil
}

// stripCodeFence returns the body of the first fenced block if the model
// wrapped its JSON in one.
func stripCodeFence(content string) string {
	split := strings.Split(content, "```")
	if len(split) < 3 {
		return strings.TrimSpace(content)
	}

	body := split[1]
	if newline := strings.IndexByte(body, '\n'); newline >= 0 && !strings.ContainsAny(body[:newline], "{[") {
		body = body[newline+1:]
	}
	return strings.TrimSpace(body)
}
