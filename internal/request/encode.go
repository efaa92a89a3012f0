// Package request encodes the outbound AI request body attached to a
// submission. The shape is fixed by the oracle collaborator; this is a pure
// pass-through with history truncation.
package request

import (
	"encoding/json"
	"fmt"

	"github.com/quex-tech/onchain-ai/internal/domain/model"
)

const systemInstruction = "You are a helpful assistant responding to blockchain users. Keep responses concise."

const (
	DefaultMaxHistoryEntries = 20
	DefaultMaxEntryLength    = 4000
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type requestBody struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type Options struct {
	Model             string
	MaxHistoryEntries int
	MaxEntryLength    int
}

// Encode builds the request body for a prompt: the fixed system
// instruction, the most recent confirmed history entries (truncated per
// entry), then the prompt itself. The caller carries the bytes on-chain
// as-is.
func Encode(prompt string, history []model.DisplayMessage, opts Options) ([]byte, error) {
	maxEntries := opts.MaxHistoryEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxHistoryEntries
	}
	maxLength := opts.MaxEntryLength
	if maxLength <= 0 {
		maxLength = DefaultMaxEntryLength
	}

	confirmed := make([]model.DisplayMessage, 0, len(history))
	for _, msg := range history {
		if msg.Status == model.StatusConfirmed {
			confirmed = append(confirmed, msg)
		}
	}
	if len(confirmed) > maxEntries {
		confirmed = confirmed[len(confirmed)-maxEntries:]
	}

	messages := make([]chatMessage, 0, len(confirmed)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})
	for _, msg := range confirmed {
		messages = append(messages, chatMessage{
			Role:    string(msg.Role),
			Content: truncate(msg.Content, maxLength),
		})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(requestBody{Model: opts.Model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return body, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
