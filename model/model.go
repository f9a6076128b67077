// Package model abstracts LLM completion providers behind a minimal
// synchronous interface. The built-in hospital agents are rule-based; the
// ModelAgent wrapper in the agent package uses this interface for LLM-backed
// reasoning. Provider adapters live in the anthropic and openai subpackages.
package model

import (
	"context"
	"fmt"
)

// Request is one completion request: a system instruction and a single user
// prompt.
type Request struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// Usage captures token usage for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed text plus usage accounting.
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "mock"
}

// Model is the minimal completion capability required by LLM-backed agents.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Responses are matched on the exact prompt; unmatched prompts get a generic
// echo completion.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs an empty MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := m.responses[req.Prompt]
	if !ok {
		text = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}
	return &Response{
		Text: text,
		Usage: Usage{
			PromptTokens:     len(req.Prompt) / 4,
			CompletionTokens: len(text) / 4,
			TotalTokens:      (len(req.Prompt) + len(text)) / 4,
		},
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
