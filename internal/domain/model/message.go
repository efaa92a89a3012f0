package model

import (
	"github.com/google/uuid"
)

// Role identifies which side of the conversation a display message belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks the lifecycle of a message relative to the ledger.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// ConversationEntry is one prompt/response pair from the authoritative
// conversation read. Entries carry no identifiers; position is ledger order.
// An empty Response means no response has been recorded yet.
type ConversationEntry struct {
	Prompt   string
	Response string
}

// PendingMessage is the local optimistic record of an in-flight submission.
// It exists only in the session and is never persisted.
type PendingMessage struct {
	LocalID uuid.UUID
	Content string
	TxHash  string // empty until the submission call returns a reference
	Status  Status
}

// DisplayMessage is one reconciled transcript entry.
type DisplayMessage struct {
	ID      int
	Role    Role
	Content string
	TxHash  string
	Status  Status

	// MessageID is the ledger-assigned identifier, valid only when
	// HasMessageID is set. Conversation entries that could not be
	// correlated to an event surface without one.
	MessageID    uint64
	HasMessageID bool
}
