package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them without inspecting messages.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindUnsupportedType   Kind = "unsupported_type"
	KindTooLarge          Kind = "too_large"
	KindEncoding          Kind = "encoding_error"
	KindUnknownModel      Kind = "unknown_model"
	KindNotFound          Kind = "not_found"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindEmbeddingService  Kind = "embedding_service_unavailable"
	KindGenerationService Kind = "generation_service_unavailable"
	KindWebSearchService  Kind = "web_search_unavailable"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is comparisons; only the Kind is compared.
var (
	ErrInvalidRequest               = &Error{Kind: KindInvalidRequest}
	ErrUnsupportedType              = &Error{Kind: KindUnsupportedType}
	ErrTooLarge                     = &Error{Kind: KindTooLarge}
	ErrEncoding                     = &Error{Kind: KindEncoding}
	ErrUnknownModel                 = &Error{Kind: KindUnknownModel}
	ErrNotFound                     = &Error{Kind: KindNotFound}
	ErrStoreUnavailable             = &Error{Kind: KindStoreUnavailable}
	ErrEmbeddingServiceUnavailable  = &Error{Kind: KindEmbeddingService}
	ErrGenerationServiceUnavailable = &Error{Kind: KindGenerationService}
	ErrWebSearchUnavailable         = &Error{Kind: KindWebSearchService}
)

// Error is the typed error crossing component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the message without the wrapped cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return string(KindOf(err))
}
