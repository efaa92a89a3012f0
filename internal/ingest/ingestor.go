package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/quex-tech/onchain-ai/internal/errclass"
	"github.com/quex-tech/onchain-ai/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	channelBackfill     = "backfill"
	channelSubscription = "subscription"
	channelPoll         = "poll"
)

// Ingestor feeds the event store from three racing delivery paths: one-shot
// historical backfills, a best-effort push subscription, and a polling
// fallback that re-queries the response range while any response is
// outstanding. All three converge on the store's (kind, messageId) dedup,
// so redelivery in any order is harmless.
type Ingestor struct {
	source       chain.EventSource
	decoder      chain.EventDecoder
	store        *Store
	user         string
	startBlock   int64
	pollInterval time.Duration
	logger       *slog.Logger

	// armCh wakes the polling loop after a submission, so it only ticks
	// while responses can actually be outstanding.
	armCh chan struct{}
}

func NewIngestor(
	source chain.EventSource,
	decoder chain.EventDecoder,
	store *Store,
	user string,
	startBlock int64,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		source:       source,
		decoder:      decoder,
		store:        store,
		user:         user,
		startBlock:   startBlock,
		pollInterval: pollInterval,
		logger:       logger.With("component", "ingestor"),
		armCh:        make(chan struct{}, 1),
	}
}

// Backfill runs one historical range query from the configured start block
// to the current head, for both event kinds. A failure is logged and left
// for the next poll or explicit trigger to supersede; it never blocks the
// rest of the session.
func (i *Ingestor) Backfill(ctx context.Context) error {
	start := time.Now()
	err := i.backfill(ctx)
	metrics.BackfillLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackfillRuns.WithLabelValues("error").Inc()
		decision := errclass.Classify(err)
		i.logger.Warn("backfill failed",
			"classification", decision.Class,
			"classification_reason", decision.Reason,
			"error", err,
		)
		return err
	}
	metrics.BackfillRuns.WithLabelValues("ok").Inc()
	return nil
}

func (i *Ingestor) backfill(ctx context.Context) error {
	head, err := i.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}

	messageRecords, err := i.source.QueryMessageLogs(ctx, i.user, i.startBlock, head)
	if err != nil {
		return fmt.Errorf("query message logs: %w", err)
	}
	accepted := i.ingestMessages(messageRecords, channelBackfill)

	responseRecords, err := i.source.QueryResponseLogs(ctx, i.startBlock, head)
	if err != nil {
		return fmt.Errorf("query response logs: %w", err)
	}
	accepted += i.ingestResponses(responseRecords, channelBackfill)

	i.logger.Info("backfill complete",
		"head", head,
		"message_records", len(messageRecords),
		"response_records", len(responseRecords),
		"accepted", accepted,
	)
	return nil
}

// RunSubscriptions pumps both push subscriptions until ctx is cancelled.
// Subscription errors are logged and absorbed; the subscription is
// best-effort by contract and backfill/polling recover anything it drops.
func (i *Ingestor) RunSubscriptions(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return i.source.SubscribeMessageLogs(gCtx, i.user,
			func(records []chain.RawLogRecord) {
				i.ingestMessages(records, channelSubscription)
			},
			func(err error) {
				i.logger.Warn("message subscription error", "error", err)
			},
		)
	})

	g.Go(func() error {
		return i.source.SubscribeResponseLogs(gCtx,
			func(records []chain.RawLogRecord) {
				i.ingestResponses(records, channelSubscription)
			},
			func(err error) {
				i.logger.Warn("response subscription error", "error", err)
			},
		)
	})

	return g.Wait()
}

// Arm wakes the polling fallback after a submission or backfill so it can
// chase outstanding responses again.
func (i *Ingestor) Arm() {
	select {
	case i.armCh <- struct{}{}:
	default:
	}
}

// RunPolling is the correctness fallback racing the push subscription. It
// sleeps until armed, then re-queries the full response range on a fixed
// interval while at least one response is outstanding, and stops scheduling
// ticks once none are.
func (i *Ingestor) RunPolling(ctx context.Context) error {
	for {
		if i.store.ResponsesOutstanding() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-i.armCh:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.pollInterval):
			i.pollOnce(ctx)
		}
	}
}

func (i *Ingestor) pollOnce(ctx context.Context) {
	head, err := i.source.HeadBlock(ctx)
	if err != nil {
		metrics.PollRuns.WithLabelValues("error").Inc()
		i.logger.Warn("response poll failed", "stage", "head_block", "error", err)
		return
	}

	records, err := i.source.QueryResponseLogs(ctx, i.startBlock, head)
	if err != nil {
		metrics.PollRuns.WithLabelValues("error").Inc()
		i.logger.Warn("response poll failed", "stage", "query", "error", err)
		return
	}

	accepted := i.ingestResponses(records, channelPoll)
	metrics.PollRuns.WithLabelValues("ok").Inc()
	if accepted > 0 {
		i.logger.Info("poll recovered responses", "accepted", accepted)
	}
}

func (i *Ingestor) ingestMessages(records []chain.RawLogRecord, channel string) int {
	accepted := 0
	for _, rec := range records {
		metrics.EventsObserved.WithLabelValues(string(model.EventKindMessage), channel).Inc()
		ev, err := i.decoder.DecodeMessage(rec)
		if err != nil {
			metrics.EventsMalformed.WithLabelValues(string(model.EventKindMessage)).Inc()
			i.logger.Debug("dropping undecodable message record", "channel", channel, "error", err)
			continue
		}
		if i.store.AddMessage(ev, channel) {
			accepted++
			i.logger.Debug("message event accepted",
				"message_id", ev.MessageID, "channel", channel, "tx_hash", ev.TxHash)
		}
	}
	return accepted
}

func (i *Ingestor) ingestResponses(records []chain.RawLogRecord, channel string) int {
	accepted := 0
	for _, rec := range records {
		metrics.EventsObserved.WithLabelValues(string(model.EventKindResponse), channel).Inc()
		ev, err := i.decoder.DecodeResponse(rec)
		if err != nil {
			metrics.EventsMalformed.WithLabelValues(string(model.EventKindResponse)).Inc()
			i.logger.Debug("dropping undecodable response record", "channel", channel, "error", err)
			continue
		}
		if i.store.AddResponse(ev, channel) {
			accepted++
			i.logger.Debug("response event accepted",
				"message_id", ev.MessageID, "channel", channel, "tx_hash", ev.TxHash)
		}
	}
	return accepted
}
