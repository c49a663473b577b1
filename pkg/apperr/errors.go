package apperr

import (
	"errors"
	"fmt"
)

const (
	KindMalformedURL     = "malformed_url"
	KindUpstream         = "upstream_error"
	KindDelivery         = "delivery_error"
	KindFallbackDelivery = "fallback_delivery_error"
	KindConfiguration    = "configuration_error"
	KindUnknown          = "unknown"
)

// Error is a categorized relay failure. Status is the upstream HTTP status when one was received.
type Error struct {
	Kind   string
	Detail string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Kind
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// New creates a categorized error without a cause.
func New(kind string, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap categorizes cause. A nil cause still yields an error.
func Wrap(kind string, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// Upstream reports a non-200 metadata response.
func Upstream(status int, detail string) error {
	return &Error{Kind: KindUpstream, Detail: detail, Status: status}
}

// KindOf returns the category of err, or KindUnknown for uncategorized errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf returns the upstream HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Status
	}

	return 0
}
