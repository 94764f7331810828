package llms

import (
	"slices"

	"github.com/invopop/jsonschema"
)

// PromptOptions contains the options shared by streaming and structured
// prompts.
type PromptOptions struct {
	Instructions string
	Messages     []Message
	Temperature  *float64
}

type StreamingPromptOptions struct {
	PromptOptions
}

type StructuredPromptOptions struct {
	PromptOptions
	ResponseFormat ResponseFormat
}

// ResponseFormat selects how a structured prompt constrains the model output.
// The zero value asks for a plain JSON object.
type ResponseFormat struct {
	// Name identifies the schema, it is required when Schema is set.
	Name   string
	Schema *jsonschema.Schema
	Strict bool
}

type StreamingPromptOption interface {
	ApplyToStreaming(*StreamingPromptOptions)
}

type StructuredPromptOption interface {
	ApplyToStructured(*StructuredPromptOptions)
}

// PromptOption modifies options common to every prompt kind.
type PromptOption func(*PromptOptions)

func (f PromptOption) ApplyToStreaming(o *StreamingPromptOptions) {
	f(&o.PromptOptions)
}

func (f PromptOption) ApplyToStructured(o *StructuredPromptOptions) {
	f(&o.PromptOptions)
}

// StructuredOption modifies options only structured prompts understand.
type StructuredOption func(*StructuredPromptOptions)

func (f StructuredOption) ApplyToStructured(o *StructuredPromptOptions) {
	f(o)
}

// WithSystemPrompt sets the instructions sent ahead of the messages.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = prompt
	}
}

// WithMessages adds passed messages to the prompt.
// Repeating this option will sequentially add more messages.
func WithMessages(messages ...Message) PromptOption {
	return func(opts *PromptOptions) {
		opts.Messages = append(opts.Messages, slices.Clone(messages)...)
	}
}

func WithTemperature(temperature float64) PromptOption {
	return func(opts *PromptOptions) {
		opts.Temperature = &temperature
	}
}

// WithJSONSchema constrains a structured prompt to the given schema. Providers
// that only understand plain JSON mode fall back to it and ignore the schema.
func WithJSONSchema(name string, schema *jsonschema.Schema) StructuredOption {
	return func(opts *StructuredPromptOptions) {
		opts.ResponseFormat = ResponseFormat{Name: name, Schema: schema, Strict: true}
	}
}
