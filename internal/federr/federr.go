// Package federr defines the error taxonomy shared by every federation
// component. Handlers that sit on the trust boundary (the inbox dispatcher)
// log these and swallow them; direct local APIs propagate them to the caller.
package federr

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedInput = errors.New("malformed input")
	ErrNotFound       = errors.New("not found")
	ErrDuplicateActor = errors.New("duplicate actor")
	ErrDuplicateObject = errors.New("duplicate object")
	ErrDomainBlocked  = errors.New("domain blocked")
	ErrCryptoFailure  = errors.New("crypto failure")
	ErrDeliveryUnknown = errors.New("unknown delivery")
	ErrInternal       = errors.New("internal error")
)

// Wrap attaches context to a sentinel while keeping errors.Is working.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

func MalformedInput(format string, args ...any) error {
	return Wrap(ErrMalformedInput, format, args...)
}

func NotFound(format string, args ...any) error {
	return Wrap(ErrNotFound, format, args...)
}

func DuplicateActor(format string, args ...any) error {
	return Wrap(ErrDuplicateActor, format, args...)
}

func DuplicateObject(format string, args ...any) error {
	return Wrap(ErrDuplicateObject, format, args...)
}

func DomainBlocked(domain string) error {
	return Wrap(ErrDomainBlocked, "domain %q", domain)
}

func CryptoFailure(format string, args ...any) error {
	return Wrap(ErrCryptoFailure, format, args...)
}

func DeliveryUnknown(id int64) error {
	return Wrap(ErrDeliveryUnknown, "delivery %d", id)
}

func Internal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
