// Package session ties the reconciliation core together: it owns the event
// store, ingestion, the pending tracker and the balance view, and exposes
// the reconciled transcript and predicates to presentation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/quex-tech/onchain-ai/internal/alert"
	"github.com/quex-tech/onchain-ai/internal/balance"
	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/config"
	"github.com/quex-tech/onchain-ai/internal/correlate"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/quex-tech/onchain-ai/internal/errclass"
	"github.com/quex-tech/onchain-ai/internal/ingest"
	"github.com/quex-tech/onchain-ai/internal/metrics"
	"github.com/quex-tech/onchain-ai/internal/pending"
	"github.com/quex-tech/onchain-ai/internal/request"
	"github.com/quex-tech/onchain-ai/internal/transcript"
	"golang.org/x/sync/errgroup"
)

// refreshTimeout bounds the authoritative refresh triggered by a
// confirmation, which runs detached from any caller context.
const refreshTimeout = 30 * time.Second

// UserError is a dismissible, user-visible submission or confirmation
// failure. Ingestion and correlation problems never become one.
type UserError struct {
	Category errclass.Category
	Message  string
	Raw      string
}

// Session is the single logical chat session over one user address.
type Session struct {
	cfg       config.SessionConfig
	reqCfg    config.RequestConfig
	reader    chain.LedgerReader
	submitter chain.Submitter
	store     *ingest.Store
	ingestor  *ingest.Ingestor
	tracker   *pending.Tracker
	balances  *balance.View
	user      string
	logger    *slog.Logger
	alerter   alert.Alerter

	mu           sync.RWMutex
	conversation []model.ConversationEntry
	lastErr      *UserError
}

func New(
	cfg config.SessionConfig,
	reqCfg config.RequestConfig,
	reader chain.LedgerReader,
	submitter chain.Submitter,
	store *ingest.Store,
	ingestor *ingest.Ingestor,
	user string,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:       cfg,
		reqCfg:    reqCfg,
		reader:    reader,
		submitter: submitter,
		store:     store,
		ingestor:  ingestor,
		balances:  balance.NewView(cfg.BalanceOverrideTTL),
		user:      user,
		logger:    logger.With("component", "session"),
	}
	s.tracker = pending.NewTracker(cfg.ConfirmSettleDelay, s.afterConfirm, logger)
	return s
}

// SetAlerter installs an operator notification channel for submission
// failures. Nil (the default) disables alerting.
func (s *Session) SetAlerter(a alert.Alerter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerter = a
}

// Run starts ingestion and blocks until ctx is cancelled. The initial
// backfill and authoritative refresh happen before the live channels come
// up, so the first transcript is complete rather than empty.
func (s *Session) Run(ctx context.Context) error {
	if err := s.ingestor.Backfill(ctx); err != nil {
		// Non-fatal: the next poll or confirmed submission retriggers it.
		s.logger.Warn("initial backfill incomplete", "error", err)
	}
	s.RefreshConversation(ctx)
	s.RefreshBalances(ctx)
	s.ingestor.Arm()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingestor.RunSubscriptions(gCtx) })
	g.Go(func() error { return s.ingestor.RunPolling(gCtx) })
	return g.Wait()
}

// RefreshConversation replaces the conversation snapshot wholesale from the
// authoritative read. Failures keep the previous snapshot and never
// interrupt rendering.
func (s *Session) RefreshConversation(ctx context.Context) {
	if !s.cfg.ConversationReadsEnabled || s.reader == nil {
		return
	}
	conversation, err := s.reader.GetConversation(ctx, s.user)
	if err != nil {
		s.logger.Warn("conversation refresh failed", "error", err)
		return
	}
	s.mu.Lock()
	s.conversation = conversation
	s.mu.Unlock()
	s.logger.Debug("conversation refreshed", "entries", len(conversation))
}

// RefreshBalances re-reads the subscription and balance. A failed read
// leaves the corresponding value absent rather than zero, so predicates
// degrade to "needs deposit" instead of lying.
func (s *Session) RefreshBalances(ctx context.Context) {
	if s.reader == nil {
		return
	}
	subscriptionID, err := s.reader.GetSubscription(ctx, s.user)
	if err != nil {
		s.logger.Warn("subscription refresh failed", "error", err)
		s.balances.SetAuthoritative(nil, nil)
		return
	}

	var bal *big.Int
	if subscriptionID > 0 {
		bal, err = s.reader.GetBalance(ctx, subscriptionID)
		if err != nil {
			s.logger.Warn("balance refresh failed", "subscription_id", subscriptionID, "error", err)
			bal = nil
		}
	}
	s.balances.SetAuthoritative(&subscriptionID, bal)
}

// Transcript builds the reconciled transcript from whichever authoritative
// source is configured.
func (s *Session) Transcript() []model.DisplayMessage {
	pendingMsg := s.tracker.Snapshot()

	if !s.cfg.ConversationReadsEnabled {
		return transcript.BuildFromEvents(s.store.Messages(), s.store.Responses(), pendingMsg)
	}

	s.mu.RLock()
	conversation := s.conversation
	s.mu.RUnlock()

	corr := correlate.Build(s.store.Messages())
	return transcript.BuildFromConversation(conversation, pendingMsg, s.store, corr)
}

// Send submits a prompt with an optional deposit and walks the pending
// state machine through to confirmation or failure. It blocks until the
// transaction settles; callers wanting async behavior run it in a
// goroutine and watch Pending().
func (s *Session) Send(ctx context.Context, prompt string, deposit *big.Int) error {
	if s.submitter == nil {
		return fmt.Errorf("session is read-only: no signer configured")
	}
	if s.tracker.Busy() {
		return fmt.Errorf("a message is already in flight")
	}

	msg := s.tracker.Begin(prompt)

	body, err := request.Encode(prompt, s.Transcript(), request.Options{
		Model:             s.reqCfg.Model,
		MaxHistoryEntries: s.reqCfg.MaxHistoryEntries,
		MaxEntryLength:    s.reqCfg.MaxEntryLength,
	})
	if err != nil {
		s.tracker.FailSubmission(msg.LocalID)
		s.setError(err)
		metrics.SubmissionsTotal.WithLabelValues("encode_error").Inc()
		return err
	}

	txHash, err := s.submitter.SendMessage(ctx, prompt, body, deposit)
	if err != nil {
		s.tracker.FailSubmission(msg.LocalID)
		s.setError(err)
		metrics.SubmissionsTotal.WithLabelValues("submit_error").Inc()
		return fmt.Errorf("submit message: %w", err)
	}
	s.tracker.AttachTxHash(msg.LocalID, txHash)

	confirmStart := time.Now()
	if err := s.submitter.AwaitConfirmation(ctx, txHash); err != nil {
		s.tracker.FailConfirmation(msg.LocalID)
		s.setError(err)
		metrics.SubmissionsTotal.WithLabelValues("confirm_error").Inc()
		return fmt.Errorf("confirm transaction %s: %w", txHash, err)
	}
	metrics.ConfirmationLatency.Observe(time.Since(confirmStart).Seconds())
	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()

	s.tracker.Confirm(msg.LocalID)
	return nil
}

// afterConfirm absorbs a just-confirmed submission: refresh the
// authoritative state and re-run backfill to capture the events the live
// channel may have missed while the transaction settled.
func (s *Session) afterConfirm() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := s.ingestor.Backfill(ctx); err != nil {
		s.logger.Warn("post-confirmation backfill incomplete", "error", err)
	}
	s.RefreshConversation(ctx)
	s.RefreshBalances(ctx)
	s.ingestor.Arm()
}

// OverrideBalance installs an optimistic display balance after a local
// mutating action (e.g. a withdrawal zeroes it) until the authoritative
// value catches up or the override expires.
func (s *Session) OverrideBalance(value *big.Int) {
	s.balances.SetOverride(value)
}

// RevertBalanceOverride clears the optimistic balance after the mutating
// action failed.
func (s *Session) RevertBalanceOverride() {
	s.balances.ClearOverride()
}

// Pending returns the in-flight message, or nil.
func (s *Session) Pending() *model.PendingMessage {
	return s.tracker.Snapshot()
}

// DisplayBalance returns the override-adjusted balance, nil when unknown.
func (s *Session) DisplayBalance() *big.Int {
	return s.balances.DisplayBalance()
}

// HasActiveSubscription reports whether the user holds a subscription.
func (s *Session) HasActiveSubscription() bool {
	return s.balances.HasActiveSubscription()
}

// NeedsDeposit reports whether the next message must carry a deposit.
func (s *Session) NeedsDeposit() bool {
	return s.balances.NeedsDeposit()
}

// LastError returns the current dismissible user-visible error, or nil.
func (s *Session) LastError() *UserError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr == nil {
		return nil
	}
	copied := *s.lastErr
	return &copied
}

// ClearError dismisses the current user-visible error.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

func (s *Session) setError(err error) {
	userErr := &UserError{
		Category: errclass.Categorize(err),
		Message:  errclass.UserMessage(err),
		Raw:      err.Error(),
	}
	s.mu.Lock()
	s.lastErr = userErr
	alerter := s.alerter
	s.mu.Unlock()
	s.logger.Warn("submission failed", "category", userErr.Category, "error", err)

	if alerter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if alertErr := alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeSubmissionFailed,
			User:    s.user,
			Title:   "message submission failed",
			Message: userErr.Message,
			Fields:  map[string]string{"category": string(userErr.Category), "raw": userErr.Raw},
		}); alertErr != nil {
			s.logger.Warn("alert delivery failed", "error", alertErr)
		}
	}
}
