package watch

import (
	"errors"
	"fmt"
)

var (
	ErrParse    = errors.New("parse error")
	ErrFetch    = errors.New("fetch error")
	ErrDelivery = errors.New("delivery error")
	ErrPersist  = errors.New("persistence error")
)

// ParseError reports a single malformed value from the feed. Callers skip the
// affected event and keep the rest of the batch.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %q: %v", e.Raw, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// FetchError reports an unreachable or malformed upstream response.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Outcome is the non-exceptional result of a registry mutation.
type Outcome int

const (
	OK Outcome = iota
	AlreadySubscribed
	NotSubscribed
	EmptyToBegin
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case AlreadySubscribed:
		return "already_subscribed"
	case NotSubscribed:
		return "not_subscribed"
	case EmptyToBegin:
		return "empty"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what the command layer shows the user.
type Result struct {
	Success bool
	Message string
}
