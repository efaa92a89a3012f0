package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned records. Record Data carries a compact test
// encoding ("<id>:<text>") that fakeDecoder understands; "bad" is
// undecodable.
type fakeSource struct {
	mu              sync.Mutex
	head            int64
	headErr         error
	messageRecords  []chain.RawLogRecord
	responseRecords []chain.RawLogRecord
	queryErr        error
	pollCount       int
}

func (f *fakeSource) HeadBlock(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeSource) QueryMessageLogs(ctx context.Context, user string, from, to int64) ([]chain.RawLogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.messageRecords, nil
}

func (f *fakeSource) QueryResponseLogs(ctx context.Context, from, to int64) ([]chain.RawLogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.pollCount++
	return f.responseRecords, nil
}

func (f *fakeSource) SubscribeMessageLogs(ctx context.Context, user string, onBatch func([]chain.RawLogRecord), onError func(error)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) SubscribeResponseLogs(ctx context.Context, onBatch func([]chain.RawLogRecord), onError func(error)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) setResponses(records []chain.RawLogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responseRecords = records
}

func (f *fakeSource) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

type fakeDecoder struct{}

func (fakeDecoder) DecodeMessage(rec chain.RawLogRecord) (model.MessageEvent, error) {
	id, text, err := splitRecord(rec.Data)
	if err != nil {
		return model.MessageEvent{}, err
	}
	return model.MessageEvent{MessageID: id, Prompt: text, TxHash: rec.TxHash}, nil
}

func (fakeDecoder) DecodeResponse(rec chain.RawLogRecord) (model.ResponseEvent, error) {
	id, text, err := splitRecord(rec.Data)
	if err != nil {
		return model.ResponseEvent{}, err
	}
	return model.ResponseEvent{MessageID: id, Response: text, TxHash: rec.TxHash}, nil
}

func splitRecord(data string) (uint64, string, error) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return 0, "", errors.New("malformed test record")
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, parts[1], nil
}

func record(data, txHash string) chain.RawLogRecord {
	return chain.RawLogRecord{Data: data, TxHash: txHash}
}

func TestBackfill_IngestsBothKinds(t *testing.T) {
	source := &fakeSource{
		head: 100,
		messageRecords: []chain.RawLogRecord{
			record("1:hello", "0xm1"),
			record("2:again", "0xm2"),
		},
		responseRecords: []chain.RawLogRecord{
			record("1:hi there", "0xr1"),
		},
	}
	store := NewStore()
	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, time.Second, nil)

	require.NoError(t, ing.Backfill(context.Background()))

	require.Len(t, store.Messages(), 2)
	require.Len(t, store.Responses(), 1)
	assert.Equal(t, 1, store.ResponsesOutstanding())
}

func TestBackfill_MalformedRecordsDropped(t *testing.T) {
	source := &fakeSource{
		head: 10,
		messageRecords: []chain.RawLogRecord{
			record("bad", "0xm1"),
			record("3:good", "0xm3"),
		},
	}
	store := NewStore()
	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, time.Second, nil)

	require.NoError(t, ing.Backfill(context.Background()))

	messages := store.Messages()
	require.Len(t, messages, 1, "undecodable record must be dropped, not fail the backfill")
	assert.Equal(t, uint64(3), messages[0].MessageID)
}

func TestBackfill_QueryFailureReturnsError(t *testing.T) {
	source := &fakeSource{head: 10, queryErr: errors.New("connection refused")}
	store := NewStore()
	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, time.Second, nil)

	err := ing.Backfill(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.Messages())
}

func TestBackfill_RedeliveryIsIdempotent(t *testing.T) {
	source := &fakeSource{
		head:            10,
		messageRecords:  []chain.RawLogRecord{record("1:hello", "0xm1")},
		responseRecords: []chain.RawLogRecord{record("1:answer", "0xr1")},
	}
	store := NewStore()
	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, time.Second, nil)

	require.NoError(t, ing.Backfill(context.Background()))
	require.NoError(t, ing.Backfill(context.Background()))

	assert.Len(t, store.Messages(), 1)
	assert.Len(t, store.Responses(), 1)
}

func TestRunPolling_RecoversOutstandingResponseThenIdles(t *testing.T) {
	source := &fakeSource{
		head: 10,
	}
	store := NewStore()
	store.AddMessage(model.MessageEvent{MessageID: 1, Prompt: "q"}, channelBackfill)

	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ing.RunPolling(ctx) }()

	// One response outstanding: the loop must poll without being armed.
	require.Eventually(t, func() bool { return source.polls() > 0 }, time.Second, time.Millisecond)

	// Serve the response; the loop ingests it and goes back to sleep.
	source.setResponses([]chain.RawLogRecord{record("1:answer", "0xr1")})
	require.Eventually(t, func() bool { return store.ResponsesOutstanding() == 0 }, time.Second, time.Millisecond)

	settled := source.polls()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, source.polls(), settled+1, "polling must stop once nothing is outstanding")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunPolling_SleepsUntilArmed(t *testing.T) {
	source := &fakeSource{head: 10}
	store := NewStore()

	ing := NewIngestor(source, fakeDecoder{}, store, "0xuser", 0, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = ing.RunPolling(ctx) }()

	// Nothing outstanding and never armed: no polls.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, source.polls())

	// A submission lands a message and arms the loop.
	store.AddMessage(model.MessageEvent{MessageID: 1, Prompt: "q"}, channelSubscription)
	ing.Arm()
	require.Eventually(t, func() bool { return source.polls() > 0 }, time.Second, time.Millisecond)
}

func TestArm_NonBlockingWhenAlreadyArmed(t *testing.T) {
	ing := NewIngestor(&fakeSource{}, fakeDecoder{}, NewStore(), "0xuser", 0, time.Second, nil)
	ing.Arm()
	ing.Arm() // must not block
}
