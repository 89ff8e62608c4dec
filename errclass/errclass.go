// Package errclass classifies node failures into a closed taxonomy and maps
// each kind to a retry policy and fallback action. Classification is total:
// every error falls into exactly one kind, with Unknown as the catch-all.
package errclass

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Kind is the error taxonomy bucket for a classified failure.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindRateLimit  Kind = "rate_limit"
	KindParse      Kind = "parse"
	KindValidation Kind = "validation"
	KindStore      Kind = "store"
	KindResource   Kind = "resource"
	KindUnknown    Kind = "unknown"
)

// Severity grades an error record for downstream reporting.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Action is the fallback applied when retries are exhausted or not allowed.
type Action string

const (
	ActionSkipNode        Action = "skip_node"
	ActionBackoff         Action = "backoff"
	ActionEmptyResult     Action = "empty_result"
	ActionRelaxValidation Action = "relax_validation"
	ActionCacheOnly       Action = "cache_only"
	ActionReduceBatch     Action = "reduce_batch"
)

// Record is the per-error entry appended to a run's error list.
type Record struct {
	Node     string    `json:"node"`
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Ts       time.Time `json:"ts"`
	Severity Severity  `json:"severity"`
	Recovery Action    `json:"recovery_action"`
}

// NewRecord builds a Record for a classified error with the kind's default
// severity and fallback action.
func NewRecord(node string, err error, now time.Time) Record {
	kind := Classify(err)
	return Record{
		Node:     node,
		Kind:     kind,
		Message:  err.Error(),
		Ts:       now.UTC(),
		Severity: kind.severity(),
		Recovery: PolicyFor(kind).Fallback,
	}
}

func (k Kind) severity() Severity {
	switch k {
	case KindResource:
		return SeverityCritical
	case KindParse, KindValidation:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Classify maps an error to its taxonomy kind. Typed errors are checked
// first (context deadlines, net.Error), then lowercase message patterns.
// The fallthrough is Unknown, which keeps classification total.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	case containsAny(msg, "rate limit", "too many requests", "429", "quota exceeded", "throttl"):
		return KindRateLimit
	case containsAny(msg, "connection", "refused", "reset by peer", "broken pipe", "no such host", "unexpected eof", "unreachable"):
		return KindConnection
	case containsAny(msg, "parse", "unmarshal", "decode", "invalid json", "syntax error", "malformed"):
		return KindParse
	case containsAny(msg, "validation", "invalid field", "schema", "missing required", "out of range"):
		return KindValidation
	case containsAny(msg, "database", "sql", "sqlite", "constraint", "store", "disk i/o", "no space"):
		return KindStore
	case containsAny(msg, "out of memory", "oom", "cannot allocate", "resource exhausted", "memory limit"):
		return KindResource
	default:
		return KindUnknown
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// Policy describes how the scheduler treats a given error kind.
type Policy struct {
	// Retryable allows automatic retries for this kind.
	Retryable bool

	// MaxRetries bounds the number of retry attempts (not counting the
	// initial execution). Zero for non-retryable kinds.
	MaxRetries int

	// Strategy selects the backoff shape between attempts.
	Strategy Strategy

	// TimeoutScale, when > 1, grows the node's timeout by this factor on
	// each retry (Timeout kind only).
	TimeoutScale float64

	// Fallback is applied once retries are exhausted or disallowed.
	Fallback Action
}

// PolicyFor returns the default policy for an error kind.
func PolicyFor(kind Kind) Policy {
	switch kind {
	case KindTimeout:
		return Policy{Retryable: true, MaxRetries: 3, Strategy: StrategyNone, TimeoutScale: 1.5, Fallback: ActionSkipNode}
	case KindConnection:
		return Policy{Retryable: true, MaxRetries: 2, Strategy: StrategyLinear, Fallback: ActionSkipNode}
	case KindRateLimit:
		return Policy{Retryable: true, MaxRetries: 3, Strategy: StrategyExponential, Fallback: ActionBackoff}
	case KindParse:
		return Policy{Fallback: ActionEmptyResult}
	case KindValidation:
		return Policy{Retryable: true, MaxRetries: 1, Strategy: StrategyNone, Fallback: ActionRelaxValidation}
	case KindStore:
		return Policy{Retryable: true, MaxRetries: 2, Strategy: StrategyLinear, Fallback: ActionCacheOnly}
	case KindResource:
		// Not retried as-is; the fallback shrinks the batch and tries once.
		return Policy{Fallback: ActionReduceBatch}
	default:
		return Policy{Retryable: true, MaxRetries: 1, Strategy: StrategyNone, Fallback: ActionSkipNode}
	}
}
