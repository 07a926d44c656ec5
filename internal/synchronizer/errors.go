package synchronizer

import (
	"errors"
	"fmt"

	"github.com/rickgao/cacao-monitor/internal/model"
)

// Kind classifies channel failures.
type Kind int

const (
	// KindTransientFetch is a failed pull request. Polling continues.
	KindTransientFetch Kind = iota + 1
	// KindConnection is a push connection that failed to open or dropped.
	KindConnection
	// KindMalformedPayload is a payload on either channel that could not be parsed.
	KindMalformedPayload
)

// Sentinels for errors.Is matching against *Error.
var (
	ErrTransientFetch   = errors.New("transient fetch error")
	ErrConnection       = errors.New("connection error")
	ErrMalformedPayload = errors.New("malformed payload")
)

func (k Kind) String() string {
	switch k {
	case KindTransientFetch:
		return "transient_fetch"
	case KindConnection:
		return "connection"
	case KindMalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransientFetch:
		return ErrTransientFetch
	case KindConnection:
		return ErrConnection
	default:
		return ErrMalformedPayload
	}
}

// Error is reported to onError for every channel failure.
type Error struct {
	Kind      Kind
	Channel   model.Channel
	SourceKey string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Channel, e.SourceKey, e.Kind.sentinel(), e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// classifyPull maps a fetch failure to its kind.
func classifyPull(err error) Kind {
	if errors.Is(err, model.ErrMalformed) {
		return KindMalformedPayload
	}
	return KindTransientFetch
}
