// Package balance derives the displayed balance and subscription predicates
// from the authoritative reads, with a short-lived local override after a
// mutating action whose effect is known ahead of confirmation.
package balance

import (
	"math/big"
	"sync"
	"time"

	"github.com/quex-tech/onchain-ai/internal/transcript"
)

// View holds the latest authoritative subscription/balance reads and an
// optional optimistic override. The override expires after a fixed TTL or
// clears immediately when the mutating action fails, deferring back to the
// authoritative value either way.
type View struct {
	mu sync.Mutex

	subscriptionID *uint64
	authoritative  *big.Int

	override    *big.Int
	overrideTTL time.Duration

	nowFn     func() time.Time
	expiresAt time.Time
}

func NewView(overrideTTL time.Duration) *View {
	return &View{
		overrideTTL: overrideTTL,
		nowFn:       time.Now,
	}
}

// SetAuthoritative records the latest ledger reads. A nil value means the
// corresponding read has not resolved (or failed); predicates treat it as
// absent, not zero.
func (v *View) SetAuthoritative(subscriptionID *uint64, balance *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subscriptionID = subscriptionID
	v.authoritative = balance
}

// SetOverride installs an optimistic balance, shown until the TTL elapses
// or ClearOverride runs. A withdrawal, for example, zeroes the display
// immediately rather than waiting for the ledger to catch up.
func (v *View) SetOverride(value *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = value
	v.expiresAt = v.nowFn().Add(v.overrideTTL)
}

// ClearOverride reverts to the authoritative value, used when the mutating
// action itself fails.
func (v *View) ClearOverride() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.override = nil
}

// DisplayBalance returns the override while it lives, the authoritative
// value otherwise. Nil means no balance is known.
func (v *View) DisplayBalance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.displayLocked()
}

// SubscriptionID returns the latest known subscription identifier, nil when
// the read has not resolved.
func (v *View) SubscriptionID() *uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.subscriptionID == nil {
		return nil
	}
	id := *v.subscriptionID
	return &id
}

// HasActiveSubscription evaluates the predicate over the current view.
func (v *View) HasActiveSubscription() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return transcript.HasActiveSubscription(v.subscriptionID)
}

// NeedsDeposit evaluates the deposit predicate against the display balance,
// never the raw authoritative value, so optimistic state is reflected
// consistently.
func (v *View) NeedsDeposit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return transcript.NeedsDeposit(v.subscriptionID, v.displayLocked())
}

func (v *View) displayLocked() *big.Int {
	if v.override != nil {
		if v.nowFn().Before(v.expiresAt) {
			return new(big.Int).Set(v.override)
		}
		v.override = nil
	}
	if v.authoritative == nil {
		return nil
	}
	return new(big.Int).Set(v.authoritative)
}
