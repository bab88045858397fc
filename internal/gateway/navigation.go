package gateway

import (
	"errors"
	"fmt"
)

// Destination names a view the hosting shell should move to.
type Destination string

const (
	// DestinationLogin is the unauthenticated entry point.
	DestinationLogin Destination = "login"
	// DestinationDashboard is the authenticated landing view.
	DestinationDashboard Destination = "dashboard"
)

// NavigationRequired is returned instead of performing a redirect. The
// hosting shell decides how to navigate.
type NavigationRequired struct {
	Target Destination
	Cause  error
}

func (n *NavigationRequired) Error() string {
	if n.Cause == nil {
		return fmt.Sprintf("navigation to %s required", n.Target)
	}
	return fmt.Sprintf("navigation to %s required: %v", n.Target, n.Cause)
}

func (n *NavigationRequired) Unwrap() error { return n.Cause }

// Redirect wraps a failed call in a NavigationRequired outcome. A nil error
// stays nil and an existing navigation outcome is kept as is.
func Redirect(target Destination, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsNavigation(err); ok {
		return err
	}
	return &NavigationRequired{Target: target, Cause: err}
}

// RedirectUnauthenticated redirects to login only when err is an
// authentication failure; other errors pass through.
func RedirectUnauthenticated(err error) error {
	if errors.Is(err, ErrUnauthenticated) {
		return Redirect(DestinationLogin, err)
	}
	return err
}

// AsNavigation extracts a NavigationRequired outcome from err.
func AsNavigation(err error) (*NavigationRequired, bool) {
	var nav *NavigationRequired
	if errors.As(err, &nav) {
		return nav, true
	}
	return nil, false
}
