package errclass

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks an error as retryable regardless of its message.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks an error as non-retryable regardless of its message.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// Classify decides whether an error is worth waiting out. Ingestion uses it
// to choose log level; nothing in the session retries synchronously either
// way, the next scheduled poll or refetch supersedes the failure.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// Category is the user-facing bucket for submission and confirmation
// failures. Raw RPC and provider errors are pattern-matched into a small
// set of friendlier explanations; anything unmatched keeps its raw text.
type Category string

const (
	CategoryRateLimited     Category = "rate_limited"
	CategoryUpstreamFailure Category = "upstream_failure"
	CategoryRPCConnectivity Category = "rpc_connectivity"
	CategoryRejected        Category = "rejected"
	CategoryUnknown         Category = "unknown"
)

// Categorize maps a raw submission/confirmation error to a Category.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, []string{"rate limit", "too many requests", "429"}):
		return CategoryRateLimited
	case containsAny(lower, []string{"upstream", "oracle", "provider", "502", "503", "504", "bad gateway"}):
		return CategoryUpstreamFailure
	case containsAny(lower, []string{
		"connection refused", "connection reset", "network is unreachable",
		"no such host", "broken pipe", "timeout", "timed out", "eof",
	}):
		return CategoryRPCConnectivity
	case containsAny(lower, []string{"execution reverted", "insufficient funds", "nonce too low", "reverted"}):
		return CategoryRejected
	default:
		return CategoryUnknown
	}
}

// UserMessage returns the friendly text for a raw error, falling back to
// the raw message when no pattern matches.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Categorize(err) {
	case CategoryRateLimited:
		return "The network is rate limiting requests. Wait a moment and try again."
	case CategoryUpstreamFailure:
		return "The AI provider could not be reached. Your message was not charged; try again."
	case CategoryRPCConnectivity:
		return "Could not reach the ledger RPC endpoint. Check your connection and try again."
	case CategoryRejected:
		return "The transaction was rejected by the ledger: " + err.Error()
	default:
		return err.Error()
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate limit",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
	"server closed idle connection",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"method not found",
	"parse error",
	"execution reverted",
	"insufficient funds",
	"not found",
}
