package adapter

import (
	"errors"
	"net/http"

	"github.com/jun/docpick/internal/scratch"
)

// Normalized source errors. Provider SDK and HTTP error types never cross
// the RemoteSource boundary; callers only see these.
var (
	// ErrNotFound is returned when a folder or file no longer exists.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized is returned when the provider rejected the access token.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrUnavailable covers transport failures and any other non-2xx answer.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrNotConnected is returned by a SourceProvider when the user has no
	// usable token for the provider.
	ErrNotConnected = errors.New("provider not connected")

	// ErrTooLarge is returned when a download outgrew the scratch size limit.
	ErrTooLarge = scratch.ErrTooLarge
)

// FromStatus maps a non-2xx HTTP status to a normalized error.
func FromStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	}
	return ErrUnavailable
}

// Normalize passes normalized errors through and folds everything else,
// context cancellation included, into ErrUnavailable.
func Normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrUnavailable), errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrTooLarge):
		return err
	}
	return ErrUnavailable
}
