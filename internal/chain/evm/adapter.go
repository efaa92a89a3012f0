package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/chain/evm/rpc"
	"github.com/quex-tech/onchain-ai/internal/chain/ratelimit"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
)

// ChatOracle contract surface.
var (
	selGetConversation    = selector("getConversation(address)")
	selGetMessageCount    = selector("getMessageCount(address)")
	selGetSubscription    = selector("getUserSubscription(address)")
	selGetBalance         = selector("getSubscriptionBalance(uint256)")
	topicMessageSent      = eventTopic("MessageSent(address,uint256,string)")
	topicResponseReceived = eventTopic("ResponseReceived(uint256,string)")
)

const defaultFilterPollInterval = 2 * time.Second

// Adapter implements the ledger read, event source and event decoder
// interfaces against a ChatOracle deployment over JSON-RPC.
type Adapter struct {
	client             *rpc.Client
	contract           string
	limiter            *ratelimit.Limiter
	logger             *slog.Logger
	filterPollInterval time.Duration
}

type Option func(*Adapter)

// WithFilterPollInterval overrides how often installed log filters are
// drained for the push-style subscription.
func WithFilterPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.filterPollInterval = d
		}
	}
}

func NewAdapter(client *rpc.Client, contract string, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		client:             client,
		contract:           contract,
		limiter:            limiter,
		logger:             logger.With("component", "evm_adapter"),
		filterPollInterval: defaultFilterPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

var (
	_ chain.LedgerReader = (*Adapter)(nil)
	_ chain.EventSource  = (*Adapter)(nil)
	_ chain.EventDecoder = (*Adapter)(nil)
)

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) callContract(ctx context.Context, data []byte) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	result, err := a.client.Call(ctx, rpc.CallMsg{To: a.contract, Data: bytesToHex(data)})
	if err != nil {
		return nil, err
	}
	return hexToBytes(result)
}

func (a *Adapter) GetConversation(ctx context.Context, user string) ([]model.ConversationEntry, error) {
	sel, err := hexToBytes(selGetConversation)
	if err != nil {
		return nil, err
	}
	arg, err := encodeAddress(user)
	if err != nil {
		return nil, err
	}

	raw, err := a.callContract(ctx, append(sel, arg...))
	if err != nil {
		return nil, fmt.Errorf("getConversation(%s): %w", user, err)
	}

	pairs, err := decodeConversation(raw)
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}

	entries := make([]model.ConversationEntry, len(pairs))
	for i, p := range pairs {
		entries[i] = model.ConversationEntry{Prompt: p[0], Response: p[1]}
	}
	return entries, nil
}

func (a *Adapter) GetMessageCount(ctx context.Context, user string) (uint64, error) {
	raw, err := a.callUintByAddress(ctx, selGetMessageCount, user)
	if err != nil {
		return 0, fmt.Errorf("getMessageCount(%s): %w", user, err)
	}
	return raw, nil
}

func (a *Adapter) GetSubscription(ctx context.Context, user string) (uint64, error) {
	raw, err := a.callUintByAddress(ctx, selGetSubscription, user)
	if err != nil {
		return 0, fmt.Errorf("getUserSubscription(%s): %w", user, err)
	}
	return raw, nil
}

func (a *Adapter) GetBalance(ctx context.Context, subscriptionID uint64) (*big.Int, error) {
	sel, err := hexToBytes(selGetBalance)
	if err != nil {
		return nil, err
	}
	raw, err := a.callContract(ctx, append(sel, encodeUint64(subscriptionID)...))
	if err != nil {
		return nil, fmt.Errorf("getSubscriptionBalance(%d): %w", subscriptionID, err)
	}
	return decodeUintWord(raw, 0)
}

func (a *Adapter) callUintByAddress(ctx context.Context, funcSelector, user string) (uint64, error) {
	sel, err := hexToBytes(funcSelector)
	if err != nil {
		return 0, err
	}
	arg, err := encodeAddress(user)
	if err != nil {
		return 0, err
	}
	raw, err := a.callContract(ctx, append(sel, arg...))
	if err != nil {
		return 0, err
	}
	return decodeUint64Word(raw, 0)
}

func (a *Adapter) HeadBlock(ctx context.Context) (int64, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	return a.client.GetBlockNumber(ctx)
}

func (a *Adapter) QueryMessageLogs(ctx context.Context, user string, fromBlock, toBlock int64) ([]chain.RawLogRecord, error) {
	userTopic, err := encodeAddress(user)
	if err != nil {
		return nil, err
	}
	return a.queryLogs(ctx, rpc.LogFilter{
		FromBlock: rpc.FormatHexInt64(fromBlock),
		ToBlock:   rpc.FormatHexInt64(toBlock),
		Address:   a.contract,
		Topics:    []interface{}{topicMessageSent, bytesToHex(userTopic)},
	})
}

func (a *Adapter) QueryResponseLogs(ctx context.Context, fromBlock, toBlock int64) ([]chain.RawLogRecord, error) {
	return a.queryLogs(ctx, rpc.LogFilter{
		FromBlock: rpc.FormatHexInt64(fromBlock),
		ToBlock:   rpc.FormatHexInt64(toBlock),
		Address:   a.contract,
		Topics:    []interface{}{topicResponseReceived},
	})
}

func (a *Adapter) queryLogs(ctx context.Context, filter rpc.LogFilter) ([]chain.RawLogRecord, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	logs, err := a.client.GetLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return toRawRecords(logs), nil
}

func (a *Adapter) SubscribeMessageLogs(ctx context.Context, user string, onBatch func([]chain.RawLogRecord), onError func(error)) error {
	userTopic, err := encodeAddress(user)
	if err != nil {
		return err
	}
	return a.subscribe(ctx, rpc.LogFilter{
		Address: a.contract,
		Topics:  []interface{}{topicMessageSent, bytesToHex(userTopic)},
	}, onBatch, onError)
}

func (a *Adapter) SubscribeResponseLogs(ctx context.Context, onBatch func([]chain.RawLogRecord), onError func(error)) error {
	return a.subscribe(ctx, rpc.LogFilter{
		Address: a.contract,
		Topics:  []interface{}{topicResponseReceived},
	}, onBatch, onError)
}

// subscribe emulates a push channel over an installed server-side filter.
// The filter is re-installed when the node expires it; delivery failures go
// to onError and never terminate the loop, since backfill and polling are
// the correctness net.
func (a *Adapter) subscribe(ctx context.Context, filter rpc.LogFilter, onBatch func([]chain.RawLogRecord), onError func(error)) error {
	filterID := ""

	install := func() {
		if err := a.wait(ctx); err != nil {
			return
		}
		id, err := a.client.NewFilter(ctx, filter)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("install log filter: %w", err))
			}
			return
		}
		filterID = id
	}

	install()
	defer func() {
		if filterID != "" {
			// Best effort; the node expires orphaned filters on its own.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.client.UninstallFilter(cleanupCtx, filterID)
		}
	}()

	ticker := time.NewTicker(a.filterPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if filterID == "" {
				install()
				continue
			}
			if err := a.wait(ctx); err != nil {
				return err
			}
			logs, err := a.client.GetFilterChanges(ctx, filterID)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("drain log filter: %w", err))
				}
				// Assume the filter expired; reinstall on the next tick.
				filterID = ""
				continue
			}
			if len(logs) > 0 && onBatch != nil {
				onBatch(toRawRecords(logs))
			}
		}
	}
}

func toRawRecords(logs []*rpc.Log) []chain.RawLogRecord {
	records := make([]chain.RawLogRecord, 0, len(logs))
	for _, log := range logs {
		if log == nil || log.Removed {
			continue
		}
		blockNumber, err := rpc.ParseHexInt64(log.BlockNumber)
		if err != nil {
			blockNumber = 0
		}
		records = append(records, chain.RawLogRecord{
			Topics:      log.Topics,
			Data:        log.Data,
			TxHash:      log.TransactionHash,
			BlockNumber: blockNumber,
		})
	}
	return records
}

// DecodeMessage normalizes a MessageSent log record.
// Topics: [topic0, user, messageId]; data: (string prompt).
func (a *Adapter) DecodeMessage(rec chain.RawLogRecord) (model.MessageEvent, error) {
	if len(rec.Topics) < 3 {
		return model.MessageEvent{}, fmt.Errorf("message log: want 3 topics, got %d", len(rec.Topics))
	}
	if rec.TxHash == "" {
		return model.MessageEvent{}, fmt.Errorf("message log: missing transaction hash")
	}

	idWord, err := hexToBytes(rec.Topics[2])
	if err != nil {
		return model.MessageEvent{}, fmt.Errorf("message log: decode messageId topic: %w", err)
	}
	messageID, err := decodeUint64Word(padWord(idWord), 0)
	if err != nil {
		return model.MessageEvent{}, fmt.Errorf("message log: %w", err)
	}

	data, err := hexToBytes(rec.Data)
	if err != nil {
		return model.MessageEvent{}, fmt.Errorf("message log: decode data: %w", err)
	}
	prompt, err := decodeSingleString(data)
	if err != nil {
		return model.MessageEvent{}, fmt.Errorf("message log: decode prompt: %w", err)
	}

	return model.MessageEvent{
		MessageID: messageID,
		Prompt:    prompt,
		TxHash:    rec.TxHash,
	}, nil
}

// DecodeResponse normalizes a ResponseReceived log record.
// Topics: [topic0, messageId]; data: (string response).
func (a *Adapter) DecodeResponse(rec chain.RawLogRecord) (model.ResponseEvent, error) {
	if len(rec.Topics) < 2 {
		return model.ResponseEvent{}, fmt.Errorf("response log: want 2 topics, got %d", len(rec.Topics))
	}
	if rec.TxHash == "" {
		return model.ResponseEvent{}, fmt.Errorf("response log: missing transaction hash")
	}

	idWord, err := hexToBytes(rec.Topics[1])
	if err != nil {
		return model.ResponseEvent{}, fmt.Errorf("response log: decode messageId topic: %w", err)
	}
	messageID, err := decodeUint64Word(padWord(idWord), 0)
	if err != nil {
		return model.ResponseEvent{}, fmt.Errorf("response log: %w", err)
	}

	data, err := hexToBytes(rec.Data)
	if err != nil {
		return model.ResponseEvent{}, fmt.Errorf("response log: decode data: %w", err)
	}
	response, err := decodeSingleString(data)
	if err != nil {
		return model.ResponseEvent{}, fmt.Errorf("response log: decode response: %w", err)
	}

	return model.ResponseEvent{
		MessageID: messageID,
		Response:  response,
		TxHash:    rec.TxHash,
	}, nil
}
