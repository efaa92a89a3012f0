// Package correlate attaches ledger message identifiers to authoritative
// conversation entries. The conversation read carries only prompt/response
// text, so the only available join key is the prompt itself.
package correlate

import (
	"github.com/quex-tech/onchain-ai/internal/domain/model"
)

// Map resolves prompt text to the MessageID observed for it. When two
// distinct submissions share identical prompt text the mapping is inherently
// ambiguous in the source data; the later event wins, which keeps the
// mapping consistent rather than correct.
type Map struct {
	byPrompt map[string]uint64
}

// Build constructs a correlation map from the message events observed so
// far. Events must be in MessageID order for last-writer-wins to mean
// "latest submission wins".
func Build(events []model.MessageEvent) *Map {
	byPrompt := make(map[string]uint64, len(events))
	for _, ev := range events {
		byPrompt[ev.Prompt] = ev.MessageID
	}
	return &Map{byPrompt: byPrompt}
}

// Resolve returns the MessageID for a prompt, if one was observed. A miss
// is a degraded-but-valid outcome: the entry surfaces without a transaction
// link.
func (m *Map) Resolve(prompt string) (uint64, bool) {
	id, ok := m.byPrompt[prompt]
	return id, ok
}

// Len returns the number of distinct prompts known.
func (m *Map) Len() int {
	return len(m.byPrompt)
}
