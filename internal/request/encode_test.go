package request

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, raw []byte) requestBody {
	t.Helper()
	var body requestBody
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestEncode_SystemThenHistoryThenPrompt(t *testing.T) {
	history := []model.DisplayMessage{
		{Role: model.RoleUser, Content: "earlier question", Status: model.StatusConfirmed},
		{Role: model.RoleAssistant, Content: "earlier answer", Status: model.StatusConfirmed},
	}

	raw, err := Encode("new question", history, Options{Model: "gpt-4o-search-preview"})
	require.NoError(t, err)

	body := decodeBody(t, raw)
	assert.Equal(t, "gpt-4o-search-preview", body.Model)
	require.Len(t, body.Messages, 4)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, systemInstruction, body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "earlier question", body.Messages[1].Content)
	assert.Equal(t, "assistant", body.Messages[2].Role)
	assert.Equal(t, "user", body.Messages[3].Role)
	assert.Equal(t, "new question", body.Messages[3].Content)
}

func TestEncode_FiltersUnconfirmedHistory(t *testing.T) {
	history := []model.DisplayMessage{
		{Role: model.RoleUser, Content: "confirmed", Status: model.StatusConfirmed},
		{Role: model.RoleUser, Content: "pending", Status: model.StatusPending},
		{Role: model.RoleUser, Content: "failed", Status: model.StatusFailed},
	}

	raw, err := Encode("prompt", history, Options{Model: "m"})
	require.NoError(t, err)

	body := decodeBody(t, raw)
	require.Len(t, body.Messages, 3)
	assert.Equal(t, "confirmed", body.Messages[1].Content)
}

func TestEncode_KeepsMostRecentEntries(t *testing.T) {
	history := make([]model.DisplayMessage, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, model.DisplayMessage{
			Role:    model.RoleUser,
			Content: strings.Repeat("x", i+1),
			Status:  model.StatusConfirmed,
		})
	}

	raw, err := Encode("prompt", history, Options{Model: "m", MaxHistoryEntries: 20})
	require.NoError(t, err)

	body := decodeBody(t, raw)
	// system + 20 history + prompt
	require.Len(t, body.Messages, 22)
	assert.Equal(t, strings.Repeat("x", 11), body.Messages[1].Content, "oldest surviving entry is the 11th")
	assert.Equal(t, strings.Repeat("x", 30), body.Messages[20].Content)
}

func TestEncode_TruncatesLongEntries(t *testing.T) {
	history := []model.DisplayMessage{
		{Role: model.RoleAssistant, Content: strings.Repeat("a", 5000), Status: model.StatusConfirmed},
	}

	raw, err := Encode("prompt", history, Options{Model: "m", MaxEntryLength: 4000})
	require.NoError(t, err)

	body := decodeBody(t, raw)
	assert.Len(t, body.Messages[1].Content, 4000)
	assert.Equal(t, "prompt", body.Messages[2].Content, "the prompt itself is never truncated")
}

func TestEncode_DefaultsApplied(t *testing.T) {
	raw, err := Encode("prompt", nil, Options{Model: "m"})
	require.NoError(t, err)

	body := decodeBody(t, raw)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)
}
