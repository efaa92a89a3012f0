package transcript

import (
	"testing"

	"github.com/google/uuid"
	"github.com/quex-tech/onchain-ai/internal/correlate"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTxSource struct {
	messageTx  map[uint64]string
	responseTx map[uint64]string
}

func (f *fakeTxSource) MessageTxHash(id uint64) (string, bool) {
	tx, ok := f.messageTx[id]
	return tx, ok
}

func (f *fakeTxSource) ResponseTxHash(id uint64) (string, bool) {
	tx, ok := f.responseTx[id]
	return tx, ok
}

func TestBuildFromConversation_OrderAndLinking(t *testing.T) {
	conversation := []model.ConversationEntry{
		{Prompt: "first question", Response: "first answer"},
		{Prompt: "second question", Response: ""},
	}
	corr := correlate.Build([]model.MessageEvent{
		{MessageID: 1, Prompt: "first question", TxHash: "0xaaa"},
		{MessageID: 2, Prompt: "second question", TxHash: "0xbbb"},
	})
	txs := &fakeTxSource{
		messageTx:  map[uint64]string{1: "0xaaa", 2: "0xbbb"},
		responseTx: map[uint64]string{1: "0xccc"},
	}

	messages := BuildFromConversation(conversation, nil, txs, corr)

	require.Len(t, messages, 3, "entry without response contributes only the user side")

	assert.Equal(t, 0, messages[0].ID)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "first question", messages[0].Content)
	assert.Equal(t, "0xaaa", messages[0].TxHash)
	assert.Equal(t, model.StatusConfirmed, messages[0].Status)
	assert.True(t, messages[0].HasMessageID)
	assert.Equal(t, uint64(1), messages[0].MessageID)

	assert.Equal(t, 1, messages[1].ID)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "first answer", messages[1].Content)
	assert.Equal(t, "0xccc", messages[1].TxHash)

	assert.Equal(t, 2, messages[2].ID)
	assert.Equal(t, model.RoleUser, messages[2].Role)
	assert.Equal(t, "second question", messages[2].Content)
}

func TestBuildFromConversation_CorrelationMissDegrades(t *testing.T) {
	conversation := []model.ConversationEntry{
		{Prompt: "never observed as event", Response: "still shown"},
	}
	corr := correlate.Build(nil)
	txs := &fakeTxSource{}

	messages := BuildFromConversation(conversation, nil, txs, corr)

	require.Len(t, messages, 2)
	assert.False(t, messages[0].HasMessageID)
	assert.Empty(t, messages[0].TxHash, "unresolvable entry surfaces without a transaction link")
	assert.Equal(t, "still shown", messages[1].Content)
	assert.False(t, messages[1].HasMessageID)
}

func TestBuildFromConversation_PendingMatchedByContentIsDropped(t *testing.T) {
	conversation := []model.ConversationEntry{
		{Prompt: "hello", Response: ""},
	}
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "hello",
		TxHash:  "0xddd",
		Status:  model.StatusConfirming,
	}

	messages := BuildFromConversation(conversation, pending, &fakeTxSource{}, correlate.Build(nil))

	require.Len(t, messages, 1, "pending already visible in the authoritative view must not duplicate")
	assert.Equal(t, model.StatusConfirmed, messages[0].Status)
}

func TestBuildFromConversation_PendingTrailsTranscript(t *testing.T) {
	conversation := []model.ConversationEntry{
		{Prompt: "old", Response: "answer"},
	}
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "in flight",
		Status:  model.StatusPending,
	}

	messages := BuildFromConversation(conversation, pending, &fakeTxSource{}, correlate.Build(nil))

	require.Len(t, messages, 3)
	last := messages[2]
	assert.Equal(t, 2, last.ID)
	assert.Equal(t, model.RoleUser, last.Role)
	assert.Equal(t, "in flight", last.Content)
	assert.Equal(t, model.StatusPending, last.Status)
	assert.False(t, last.HasMessageID)
}

func TestBuildFromConversation_RebuildIsIdentical(t *testing.T) {
	conversation := []model.ConversationEntry{
		{Prompt: "first question", Response: "first answer"},
		{Prompt: "second question", Response: ""},
	}
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "in flight",
		TxHash:  "0xeee",
		Status:  model.StatusConfirming,
	}
	corr := correlate.Build([]model.MessageEvent{
		{MessageID: 1, Prompt: "first question", TxHash: "0xaaa"},
	})
	txs := &fakeTxSource{
		messageTx:  map[uint64]string{1: "0xaaa"},
		responseTx: map[uint64]string{1: "0xccc"},
	}

	first := BuildFromConversation(conversation, pending, txs, corr)
	second := BuildFromConversation(conversation, pending, txs, corr)

	assert.Equal(t, first, second, "unchanged inputs must reproduce the transcript element for element")
}

func TestBuildFromEvents_RebuildIsIdentical(t *testing.T) {
	messageEvents := []model.MessageEvent{
		{MessageID: 5, Prompt: "later", TxHash: "0x5"},
		{MessageID: 2, Prompt: "earlier", TxHash: "0x2"},
	}
	responseEvents := []model.ResponseEvent{
		{MessageID: 2, Response: "earlier answer", TxHash: "0x22"},
		{MessageID: 9, Response: "orphan answer", TxHash: "0x99"},
	}
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "in flight",
		Status:  model.StatusPending,
	}

	first := BuildFromEvents(messageEvents, responseEvents, pending)
	second := BuildFromEvents(messageEvents, responseEvents, pending)

	assert.Equal(t, first, second, "unchanged inputs must reproduce the transcript element for element")
	assert.Equal(t, uint64(5), messageEvents[0].MessageID, "the input slice is never reordered")
}

func TestBuildFromConversation_PendingIDAboveEmittedIDs(t *testing.T) {
	// Two unanswered entries leave a gap in the ID sequence (0, then 2);
	// the trailing pending entry must not reuse an emitted identifier.
	conversation := []model.ConversationEntry{
		{Prompt: "first unanswered", Response: ""},
		{Prompt: "second unanswered", Response: ""},
	}
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "third",
		Status:  model.StatusPending,
	}

	messages := BuildFromConversation(conversation, pending, &fakeTxSource{}, correlate.Build(nil))

	require.Len(t, messages, 3)
	assert.Equal(t, 0, messages[0].ID)
	assert.Equal(t, 2, messages[1].ID)
	assert.Equal(t, 3, messages[2].ID)
	seen := make(map[int]bool, len(messages))
	for _, msg := range messages {
		assert.False(t, seen[msg.ID], "duplicate transcript ID %d", msg.ID)
		seen[msg.ID] = true
	}
}

func TestBuildFromEvents_OrdersByMessageID(t *testing.T) {
	messageEvents := []model.MessageEvent{
		{MessageID: 5, Prompt: "later", TxHash: "0x5"},
		{MessageID: 2, Prompt: "earlier", TxHash: "0x2"},
	}
	responseEvents := []model.ResponseEvent{
		{MessageID: 5, Response: "later answer", TxHash: "0x55"},
		{MessageID: 2, Response: "earlier answer", TxHash: "0x22"},
	}

	messages := BuildFromEvents(messageEvents, responseEvents, nil)

	require.Len(t, messages, 4)
	assert.Equal(t, "earlier", messages[0].Content)
	assert.Equal(t, "earlier answer", messages[1].Content)
	assert.Equal(t, "later", messages[2].Content)
	assert.Equal(t, "later answer", messages[3].Content)
	for i, msg := range messages {
		assert.Equal(t, i, msg.ID)
		assert.True(t, msg.HasMessageID)
	}
}

func TestBuildFromEvents_OrphanResponseWithheld(t *testing.T) {
	messageEvents := []model.MessageEvent{
		{MessageID: 1, Prompt: "known", TxHash: "0x1"},
	}
	responseEvents := []model.ResponseEvent{
		{MessageID: 1, Response: "answer", TxHash: "0x11"},
		{MessageID: 9, Response: "orphan answer", TxHash: "0x99"},
	}

	messages := BuildFromEvents(messageEvents, responseEvents, nil)

	require.Len(t, messages, 2, "a response without its message event stays out of the transcript")
	assert.Equal(t, "known", messages[0].Content)
	assert.Equal(t, "answer", messages[1].Content)
}

func TestBuildFromEvents_ResponseNeverPrecedesMessage(t *testing.T) {
	messageEvents := []model.MessageEvent{
		{MessageID: 3, Prompt: "q3", TxHash: "0x3"},
		{MessageID: 4, Prompt: "q4", TxHash: "0x4"},
	}
	responseEvents := []model.ResponseEvent{
		{MessageID: 4, Response: "a4", TxHash: "0x44"},
	}

	messages := BuildFromEvents(messageEvents, responseEvents, nil)

	require.Len(t, messages, 3)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleUser, messages[1].Role)
	assert.Equal(t, model.RoleAssistant, messages[2].Role)
	assert.Equal(t, "a4", messages[2].Content)
}

func TestBuildFromEvents_PendingOverlay(t *testing.T) {
	pending := &model.PendingMessage{
		LocalID: uuid.New(),
		Content: "fresh prompt",
		TxHash:  "0xfff",
		Status:  model.StatusConfirming,
	}

	messages := BuildFromEvents(nil, nil, pending)

	require.Len(t, messages, 1)
	assert.Equal(t, "fresh prompt", messages[0].Content)
	assert.Equal(t, model.StatusConfirming, messages[0].Status)
	assert.Equal(t, "0xfff", messages[0].TxHash)

	// Once the event lands, the overlay collapses into the confirmed entry.
	withEvent := BuildFromEvents([]model.MessageEvent{
		{MessageID: 7, Prompt: "fresh prompt", TxHash: "0xfff"},
	}, nil, pending)
	require.Len(t, withEvent, 1)
	assert.Equal(t, model.StatusConfirmed, withEvent[0].Status)
	assert.True(t, withEvent[0].HasMessageID)
}
