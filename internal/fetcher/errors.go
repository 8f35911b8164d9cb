package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPermanent marks responses that arrived successfully but are not the
// shape the caller asked for. Such failures are never retried.
var ErrPermanent = errors.New("permanent fetch failure")

// FetchError is returned once every attempt for a URL has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PermanentFetchError reports a successful response with an unexpected
// content type.
type PermanentFetchError struct {
	URL         string
	ContentType string
}

func (e *PermanentFetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected content type %q", e.URL, e.ContentType)
}

// Is lets errors.Is(err, ErrPermanent) match.
func (e *PermanentFetchError) Is(target error) bool {
	return target == ErrPermanent
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}
