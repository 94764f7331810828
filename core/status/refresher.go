package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-tales/core/llms"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultHistoryWindow = 4
	defaultTemperature   = 0.7
	schemaName           = "player_status"

	systemPrompt = "你是跑团记录员，只负责维护玩家状态表，只输出一个JSON对象。"
)

// Prompter is a model that can answer a prompt with a JSON document.
type Prompter interface {
	PromptStructured(ctx context.Context, prompt string, opts ...llms.StructuredPromptOption) (string, error)
}

// Refresher asks a model to rewrite the status sheet given the previous sheet
// and the latest story exchange.
type Refresher struct {
	prompter      Prompter
	historyWindow int
	temperature   float64
	strictSchema  bool
}

type RefresherOption func(*Refresher)

// WithHistoryWindow sets how many trailing non-system messages are shown to
// the model.
func WithHistoryWindow(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.historyWindow = n
		}
	}
}

func WithTemperature(temperature float64) RefresherOption {
	return func(r *Refresher) {
		r.temperature = temperature
	}
}

// WithStrictSchema sends a JSON schema built from the status keys instead of
// plain JSON mode. Only enable it for providers that support json_schema
// response formats.
func WithStrictSchema(enabled bool) RefresherOption {
	return func(r *Refresher) {
		r.strictSchema = enabled
	}
}

func NewRefresher(prompter Prompter, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		prompter:      prompter,
		historyWindow: defaultHistoryWindow,
		temperature:   defaultTemperature,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Refresher) RefreshStatus(ctx context.Context, history []llms.Message, previous *Snapshot) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "refresh status")
	defer span.End()

	if previous == nil || previous.Len() == 0 {
		previous = Default()
	}

	prompt, err := buildPrompt(previous, llms.LastN(history, r.historyWindow))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	opts := []llms.StructuredPromptOption{
		llms.WithSystemPrompt(systemPrompt),
		llms.WithTemperature(r.temperature),
	}
	if r.strictSchema {
		opts = append(opts, llms.WithJSONSchema(schemaName, SchemaFor(previous)))
	}

	raw, err := r.prompter.PromptStructured(ctx, prompt, opts...)
	if err != nil {
		err = fmt.Errorf("status prompt failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	next, err := Parse(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("response.raw", raw))
		return nil, err
	}

	span.SetAttributes(attribute.Int("status.keys", next.Len()))
	return next, nil
}

func buildPrompt(previous *Snapshot, recent []llms.Message) (string, error) {
	template, err := json.Marshal(previous)
	if err != nil {
		return "", fmt.Errorf("failed to encode previous status: %w", err)
	}
	excerpt, err := json.Marshal(recent)
	if err != nil {
		return "", fmt.Errorf("failed to encode story excerpt: %w", err)
	}

	var b strings.Builder
	b.WriteString("请你根据上一阶段的玩家信息以及这一阶段的剧情推进，严格按照以下JSON格式响应：")
	b.Write(template)
	b.WriteString("注意回答要简短、表意明确。")
	b.WriteString("上一阶段玩家信息：")
	b.WriteString(previous.String())
	b.WriteString("。当前剧情片段：")
	b.Write(excerpt)
	return b.String(), nil
}

// SchemaFor describes an object with exactly the keys of s, all strings.
func SchemaFor(s *Snapshot) *jsonschema.Schema {
	properties := orderedmap.New[string, *jsonschema.Schema]()
	keys := s.Keys()
	for _, key := range keys {
		properties.Set(key, &jsonschema.Schema{Type: "string"})
	}

	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           properties,
		Required:             keys,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}
