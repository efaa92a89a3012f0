package transcript

import (
	"fmt"
	"math/big"
	"strings"
)

// shortTxHashSkip/Len define the display window into a transaction hash:
// skip the 0x prefix, show the next six characters.
const (
	shortTxHashSkip = 2
	shortTxHashLen  = 6
)

const balanceDisplayDecimals = 6

// ShortTxHash returns the display form of a transaction hash. References
// shorter than the window yield whatever is available.
func ShortTxHash(txHash string) string {
	if len(txHash) <= shortTxHashSkip {
		return ""
	}
	end := shortTxHashSkip + shortTxHashLen
	if end > len(txHash) {
		end = len(txHash)
	}
	return txHash[shortTxHashSkip:end]
}

// FormatBalance renders a raw ledger amount as a fixed-point decimal with
// exactly six fractional digits, rounded to nearest. Nil and negative
// inputs render as zero; the ledger never reports either.
func FormatBalance(raw *big.Int, decimals int) string {
	if raw == nil || raw.Sign() < 0 {
		return "0.000000"
	}
	if decimals < 0 {
		decimals = 0
	}

	// Scale to six fractional digits, rounding half up on the remainder.
	num := new(big.Int).Mul(raw, pow10(balanceDisplayDecimals))
	units := pow10(decimals)
	quo, rem := new(big.Int).QuoRem(num, units, new(big.Int))
	if new(big.Int).Lsh(rem, 1).Cmp(units) >= 0 {
		quo.Add(quo, big.NewInt(1))
	}

	frac := new(big.Int)
	whole, _ := new(big.Int).QuoRem(quo, pow10(balanceDisplayDecimals), frac)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Uint64())
}

// HasActiveSubscription reports whether a subscription identifier is
// present and non-zero. Nil means the read has not resolved.
func HasActiveSubscription(subscriptionID *uint64) bool {
	return subscriptionID != nil && *subscriptionID > 0
}

// NeedsDeposit reports whether the user must attach a deposit to their next
// message: true unless an active subscription with a positive balance is
// known.
func NeedsDeposit(subscriptionID *uint64, balance *big.Int) bool {
	if !HasActiveSubscription(subscriptionID) {
		return true
	}
	return balance == nil || balance.Sign() <= 0
}

// ExplorerTxURL builds the block-explorer link for a transaction.
func ExplorerTxURL(baseURL, txHash string) string {
	return strings.TrimSuffix(baseURL, "/") + "/tx/" + txHash
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
