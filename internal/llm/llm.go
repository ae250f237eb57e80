// SPDX-License-Identifier: MIT

// Package llm calls the chat completion endpoint that produces chapters
// and summaries.
package llm

import (
	"context"
	"strings"
	"time"
)

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one chat completion message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// NewMessage builds a message with trimmed content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: strings.TrimSpace(content)}
}

// ChatRequest is a single chat completion call.
type ChatRequest struct {
	Messages []Message
	Model    string
	TopP     float64
	Timeout  time.Duration // per attempt, falls back to 10s when zero
	APIKey   string        // overrides the configured key when set
}

// Chat is the one call the summarizer makes against the model endpoint.
// Implementations retry transient failures internally.
type Chat interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
