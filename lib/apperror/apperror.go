// Package apperror defines the error taxonomy shared by the service layer
// and the API layer. Handlers map these onto HTTP statuses.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUpstreamFetch      = errors.New("upstream fetch failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

func InvalidInput(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidInput)
}

func UpstreamFetch(err error) error {
	return fmt.Errorf("%v: %w", err, ErrUpstreamFetch)
}

// VersionConflict is returned when a content update carries a stale
// expected version. Current is the version the row holds right now, so the
// caller can re-read and retry.
type VersionConflict struct {
	Current int
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.Current)
}

// AsConflict unwraps err into a VersionConflict, if it is one.
func AsConflict(err error) (*VersionConflict, bool) {
	var vc *VersionConflict
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}
