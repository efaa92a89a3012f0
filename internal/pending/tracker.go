// Package pending owns the optimistic lifecycle of the single in-flight
// message submission: created before any network acknowledgment, promoted
// as the transaction reference and confirmation arrive, and discarded once
// the authoritative view has had time to absorb the result.
package pending

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quex-tech/onchain-ai/internal/domain/model"
)

// Tracker is a single-slot state machine: Pending -> Confirming ->
// Confirmed | Failed. At most one message is in flight; starting a new
// submission while the slot is occupied is the caller's responsibility to
// prevent (the tracker itself just overwrites).
type Tracker struct {
	mu   sync.Mutex
	slot *model.PendingMessage

	settleDelay time.Duration
	logger      *slog.Logger

	// onConfirmed runs outside the lock after a confirmation: the session
	// uses it to refresh the authoritative read and trigger a backfill.
	onConfirmed func()

	// afterFunc is swappable in tests.
	afterFunc func(time.Duration, func()) *time.Timer

	settleTimer *time.Timer
}

func NewTracker(settleDelay time.Duration, onConfirmed func(), logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		settleDelay: settleDelay,
		logger:      logger.With("component", "pending"),
		onConfirmed: onConfirmed,
		afterFunc:   time.AfterFunc,
	}
}

// Begin occupies the slot with a new pending message, before any network
// acknowledgment. Any previous occupant (a leftover Failed entry included)
// is overwritten.
func (t *Tracker) Begin(content string) model.PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopSettleTimerLocked()
	msg := model.PendingMessage{
		LocalID: uuid.New(),
		Content: content,
		Status:  model.StatusPending,
	}
	t.slot = &msg
	t.logger.Debug("pending message created", "local_id", msg.LocalID)
	return msg
}

// AttachTxHash records the transaction reference returned by the submission
// call, moving the slot to Confirming.
func (t *Tracker) AttachTxHash(localID uuid.UUID, txHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slot == nil || t.slot.LocalID != localID {
		return
	}
	t.slot.TxHash = txHash
	t.slot.Status = model.StatusConfirming
	t.logger.Debug("pending message confirming", "local_id", localID, "tx_hash", txHash)
}

// Confirm moves the slot to Confirmed, fires the confirmation hook, and
// schedules the slot to clear after the settle delay so the authoritative
// refresh lands before the optimistic entry vanishes.
func (t *Tracker) Confirm(localID uuid.UUID) {
	t.mu.Lock()
	if t.slot == nil || t.slot.LocalID != localID {
		t.mu.Unlock()
		return
	}
	t.slot.Status = model.StatusConfirmed
	t.stopSettleTimerLocked()
	t.settleTimer = t.afterFunc(t.settleDelay, func() {
		t.clear(localID)
	})
	t.logger.Info("pending message confirmed", "local_id", localID, "tx_hash", t.slot.TxHash)
	t.mu.Unlock()

	if t.onConfirmed != nil {
		t.onConfirmed()
	}
}

// FailSubmission handles a submission-level error: the slot clears
// immediately since nothing reached the ledger worth showing.
func (t *Tracker) FailSubmission(localID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slot == nil || t.slot.LocalID != localID {
		return
	}
	t.stopSettleTimerLocked()
	t.slot = nil
	t.logger.Debug("pending message dropped after submission failure", "local_id", localID)
}

// FailConfirmation handles a confirmation-level error: the entry stays
// visible as Failed until the next submission overwrites it.
func (t *Tracker) FailConfirmation(localID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slot == nil || t.slot.LocalID != localID {
		return
	}
	t.stopSettleTimerLocked()
	t.slot.Status = model.StatusFailed
	t.logger.Warn("pending message failed confirmation", "local_id", localID, "tx_hash", t.slot.TxHash)
}

// Snapshot returns a copy of the slot, or nil when empty.
func (t *Tracker) Snapshot() *model.PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slot == nil {
		return nil
	}
	copied := *t.slot
	return &copied
}

// Busy reports whether a submission is in flight: the slot is occupied by
// anything other than a Failed leftover.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slot != nil && t.slot.Status != model.StatusFailed
}

func (t *Tracker) clear(localID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slot == nil || t.slot.LocalID != localID {
		return
	}
	t.slot = nil
	t.logger.Debug("pending message settled", "local_id", localID)
}

func (t *Tracker) stopSettleTimerLocked() {
	if t.settleTimer != nil {
		t.settleTimer.Stop()
		t.settleTimer = nil
	}
}
