// Package transcript merges the authoritative conversation read, the
// observed event set and the optimistic pending message into one ordered,
// deduplicated display transcript.
package transcript

import (
	"sort"

	"github.com/quex-tech/onchain-ai/internal/correlate"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/quex-tech/onchain-ai/internal/metrics"
)

// TxHashSource resolves per-side transaction hashes by message identifier.
// The ingest store satisfies it.
type TxHashSource interface {
	MessageTxHash(messageID uint64) (string, bool)
	ResponseTxHash(messageID uint64) (string, bool)
}

// BuildFromConversation produces the transcript from an authoritative
// conversation snapshot (strategy used whenever snapshot reads are
// available). Entries are emitted in ledger order; identifiers and
// transaction hashes are attached where the correlation map can resolve the
// prompt, and missing correlation degrades to an unlinked entry. A pending
// message whose content already appears as a user entry has landed in the
// authoritative view and is dropped; otherwise it trails the transcript
// with its live status.
func BuildFromConversation(
	conversation []model.ConversationEntry,
	pending *model.PendingMessage,
	txs TxHashSource,
	corr *correlate.Map,
) []model.DisplayMessage {
	metrics.TranscriptBuilds.WithLabelValues("conversation").Inc()

	messages := make([]model.DisplayMessage, 0, len(conversation)*2+1)
	for i, entry := range conversation {
		messageID, resolved := corr.Resolve(entry.Prompt)
		if !resolved {
			metrics.CorrelationMisses.Inc()
		}

		userTx := ""
		responseTx := ""
		if resolved {
			userTx, _ = txs.MessageTxHash(messageID)
			responseTx, _ = txs.ResponseTxHash(messageID)
		}

		messages = append(messages, model.DisplayMessage{
			ID:           i * 2,
			Role:         model.RoleUser,
			Content:      entry.Prompt,
			TxHash:       userTx,
			Status:       model.StatusConfirmed,
			MessageID:    messageID,
			HasMessageID: resolved,
		})

		if entry.Response != "" {
			messages = append(messages, model.DisplayMessage{
				ID:           i*2 + 1,
				Role:         model.RoleAssistant,
				Content:      entry.Response,
				TxHash:       responseTx,
				Status:       model.StatusConfirmed,
				MessageID:    messageID,
				HasMessageID: resolved,
			})
		}
	}

	return appendPending(messages, pending)
}

// BuildFromEvents produces the transcript purely from the observed event
// set (strategy used when snapshot reads are disabled). Message events are
// emitted in MessageID order, each followed by its response when one is
// known. Orphan responses stay out of the transcript until their message
// event arrives, which preserves the user-before-assistant invariant.
func BuildFromEvents(
	messageEvents []model.MessageEvent,
	responseEvents []model.ResponseEvent,
	pending *model.PendingMessage,
) []model.DisplayMessage {
	metrics.TranscriptBuilds.WithLabelValues("events").Inc()

	ordered := make([]model.MessageEvent, len(messageEvents))
	copy(ordered, messageEvents)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MessageID < ordered[j].MessageID })

	responses := make(map[uint64]model.ResponseEvent, len(responseEvents))
	for _, ev := range responseEvents {
		responses[ev.MessageID] = ev
	}

	messages := make([]model.DisplayMessage, 0, len(ordered)*2+1)
	seen := make(map[uint64]bool, len(ordered))
	nextID := 0
	for _, ev := range ordered {
		if seen[ev.MessageID] {
			continue
		}
		seen[ev.MessageID] = true

		messages = append(messages, model.DisplayMessage{
			ID:           nextID,
			Role:         model.RoleUser,
			Content:      ev.Prompt,
			TxHash:       ev.TxHash,
			Status:       model.StatusConfirmed,
			MessageID:    ev.MessageID,
			HasMessageID: true,
		})
		nextID++

		if resp, ok := responses[ev.MessageID]; ok {
			messages = append(messages, model.DisplayMessage{
				ID:           nextID,
				Role:         model.RoleAssistant,
				Content:      resp.Response,
				TxHash:       resp.TxHash,
				Status:       model.StatusConfirmed,
				MessageID:    ev.MessageID,
				HasMessageID: true,
			})
			nextID++
		}
	}

	return appendPending(messages, pending)
}

// appendPending applies the optimistic overlay: match by content, else
// append as a trailing user entry carrying the live pending status. The
// trailing entry takes the first identifier above every emitted one, since
// an unanswered conversation entry leaves a gap in the ID sequence.
func appendPending(messages []model.DisplayMessage, pending *model.PendingMessage) []model.DisplayMessage {
	if pending == nil {
		return messages
	}
	nextID := 0
	for _, msg := range messages {
		if msg.Role == model.RoleUser && msg.Content == pending.Content {
			return messages
		}
		if msg.ID >= nextID {
			nextID = msg.ID + 1
		}
	}
	return append(messages, model.DisplayMessage{
		ID:      nextID,
		Role:    model.RoleUser,
		Content: pending.Content,
		TxHash:  pending.TxHash,
		Status:  pending.Status,
	})
}
