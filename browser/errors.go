package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted means no session slot freed up within the wait timeout.
	// It is transient; callers may retry acquisition later.
	ErrPoolExhausted = errors.New("browser: session pool exhausted")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("browser: session pool closed")
)

// NavigationError is a transport or timeout failure while loading a page.
type NavigationError struct {
	URL        string
	Timeout    bool
	StatusCode int
	Err        error
}

func (e *NavigationError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("navigation to %s timed out: %v", e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("navigation to %s returned status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
	}
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ExtractionError means the page loaded but the expected listing markers
// were missing, which usually points at a source layout change.
type ExtractionError struct {
	URL    string
	Marker string
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("extraction from %s failed: marker %q not found", e.URL, e.Marker)
	}
	return fmt.Sprintf("extraction from %s failed: %s", e.URL, e.Reason)
}

// IsNavigation reports whether err is, or wraps, a NavigationError.
func IsNavigation(err error) bool {
	var ne *NavigationError
	return errors.As(err, &ne)
}

// IsExtraction reports whether err is, or wraps, an ExtractionError.
func IsExtraction(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}
