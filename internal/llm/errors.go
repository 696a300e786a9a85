package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Failure classifies why a call to a model backend failed.
type Failure int

const (
	// FailUnreachable covers network errors and 5xx replies.
	FailUnreachable Failure = iota
	// FailRateLimited is a 429 reply.
	FailRateLimited
	// FailRejected is any other 4xx reply: a bad key, an unknown model or a
	// request the backend refuses. Repeating it gives the same answer.
	FailRejected
	// FailEmptyReply means the backend answered without usable text.
	FailEmptyReply
)

func (f Failure) String() string {
	switch f {
	case FailUnreachable:
		return "unreachable"
	case FailRateLimited:
		return "rate limited"
	case FailRejected:
		return "request rejected"
	case FailEmptyReply:
		return "empty reply"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

// ProviderError is a failed call to a judge, embedding or speech backend.
type ProviderError struct {
	Provider string
	Failure  Failure
	// Status is the HTTP status, or 0 when no reply arrived.
	Status int
	// RetryAfter is the wait the backend asked for on a 429.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Failure.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the same call may succeed later.
func (e *ProviderError) Temporary() bool {
	return e.Failure == FailUnreachable || e.Failure == FailRateLimited
}

// statusError classifies a reply by its HTTP status.
func statusError(provider string, status int, err error) *ProviderError {
	f := FailUnreachable
	switch {
	case status == http.StatusTooManyRequests:
		f = FailRateLimited
	case status >= 400 && status < 500:
		f = FailRejected
	}
	return &ProviderError{Provider: provider, Failure: f, Status: status, Err: err}
}

func unreachable(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Failure: FailUnreachable, Err: err}
}

func emptyReply(provider, what string) *ProviderError {
	return &ProviderError{Provider: provider, Failure: FailEmptyReply, Err: errors.New(what)}
}
