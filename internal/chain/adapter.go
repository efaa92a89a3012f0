package chain

import (
	"context"
	"math/big"

	"github.com/quex-tech/onchain-ai/internal/domain/model"
)

// RawLogRecord is one undecoded ledger log entry as reported by an event
// query or subscription. Records that cannot be decoded into a typed event
// are dropped by ingestion, never surfaced as errors.
type RawLogRecord struct {
	Topics      []string
	Data        string
	TxHash      string
	BlockNumber int64
	Removed     bool
}

// LedgerReader abstracts the authoritative contract reads. The conversation
// read may be disabled on deployments where snapshot calls are unavailable;
// callers fall back to event-sourced reconstruction.
type LedgerReader interface {
	// GetConversation returns the full prompt/response history for a user
	// in ledger order.
	GetConversation(ctx context.Context, user string) ([]model.ConversationEntry, error)

	// GetMessageCount returns the number of accepted submissions for a user.
	GetMessageCount(ctx context.Context, user string) (uint64, error)

	// GetSubscription returns the user's subscription identifier, zero when
	// no subscription exists.
	GetSubscription(ctx context.Context, user string) (uint64, error)

	// GetBalance returns the remaining balance for a subscription in the
	// ledger's smallest unit.
	GetBalance(ctx context.Context, subscriptionID uint64) (*big.Int, error)
}

// EventSource abstracts historical range queries and live log delivery.
// Subscriptions are best-effort: silent disconnection implies nothing about
// missed events, which is why ingestion also backfills and polls.
type EventSource interface {
	// HeadBlock returns the latest ledger block number.
	HeadBlock(ctx context.Context) (int64, error)

	// QueryMessageLogs returns raw MessageSent records for a user in
	// [fromBlock, toBlock].
	QueryMessageLogs(ctx context.Context, user string, fromBlock, toBlock int64) ([]RawLogRecord, error)

	// QueryResponseLogs returns raw ResponseReceived records in
	// [fromBlock, toBlock]. Response logs are not indexed by user.
	QueryResponseLogs(ctx context.Context, fromBlock, toBlock int64) ([]RawLogRecord, error)

	// SubscribeMessageLogs delivers new MessageSent records for a user as
	// batches until ctx is cancelled. Delivery errors go to onError and do
	// not terminate the subscription.
	SubscribeMessageLogs(ctx context.Context, user string, onBatch func([]RawLogRecord), onError func(error)) error

	// SubscribeResponseLogs delivers new ResponseReceived records as
	// batches until ctx is cancelled.
	SubscribeResponseLogs(ctx context.Context, onBatch func([]RawLogRecord), onError func(error)) error
}

// EventDecoder normalizes raw log records into typed events. Decode errors
// mean the record is malformed or foreign and should be dropped.
type EventDecoder interface {
	DecodeMessage(rec RawLogRecord) (model.MessageEvent, error)
	DecodeResponse(rec RawLogRecord) (model.ResponseEvent, error)
}

// Submitter abstracts message submission and transaction confirmation.
type Submitter interface {
	// SendMessage submits a prompt with the encoded AI request body and an
	// optional deposit, returning the transaction hash. It may fail before
	// or after producing a hash.
	SendMessage(ctx context.Context, prompt string, encodedBody []byte, deposit *big.Int) (string, error)

	// AwaitConfirmation blocks until the transaction is confirmed or
	// rejected. A nil error means confirmed.
	AwaitConfirmation(ctx context.Context, txHash string) error
}
