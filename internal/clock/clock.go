// Package clock defines the time source injected into components that
// make time-based decisions, so tests can substitute a fake.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
