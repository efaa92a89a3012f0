package model

// EventKind discriminates the two ledger event types.
type EventKind string

const (
	EventKindMessage  EventKind = "message"
	EventKindResponse EventKind = "response"
)

// EventKey is the dedup identity of a ledger event. All delivery channels
// report the same canonical fact for a given key, so the first observation
// wins and later ones are discarded.
type EventKey struct {
	Kind      EventKind
	MessageID uint64
}

// MessageEvent is the immutable ledger fact emitted when a submission is
// accepted. MessageID is global, 1-based and monotonically increasing.
type MessageEvent struct {
	MessageID uint64
	Prompt    string
	TxHash    string
}

// Key returns the dedup identity of the event.
func (e MessageEvent) Key() EventKey {
	return EventKey{Kind: EventKindMessage, MessageID: e.MessageID}
}

// ResponseEvent is the immutable ledger fact emitted when the oracle answers
// a message. At most one exists per MessageID; it may arrive arbitrarily
// late or never.
type ResponseEvent struct {
	MessageID uint64
	Response  string
	TxHash    string
}

// Key returns the dedup identity of the event.
func (e ResponseEvent) Key() EventKey {
	return EventKey{Kind: EventKindResponse, MessageID: e.MessageID}
}
