package pipeline

import (
	"errors"
	"fmt"
)

// Automation failure classes. Business outcomes (permit not found,
// empty list) are values, never errors; everything here is an
// infrastructure failure that the worker retries.
var (
	// ErrLoginFailed marks a login that the portal rejected.
	ErrLoginFailed = errors.New("portal login failed")

	// ErrNavigation marks a page or element the portal never showed.
	ErrNavigation = errors.New("portal navigation failed")

	// ErrTimeout marks an automation step that ran out its budget.
	ErrTimeout = errors.New("portal step timed out")
)

// LoginError wraps ErrLoginFailed with the error text scraped from the
// login form, when the portal surfaced one.
func LoginError(portalMessage string) error {
	if portalMessage == "" {
		return ErrLoginFailed
	}
	return fmt.Errorf("%w: %s", ErrLoginFailed, portalMessage)
}

// NavigationError wraps ErrNavigation with the step that failed.
func NavigationError(step string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrNavigation, step)
	}
	return fmt.Errorf("%w: %s: %v", ErrNavigation, step, err)
}
