package availability

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimezone applies when a request leaves Timezone empty.
const DefaultTimezone = "Europe/London"

// ZoneResolver maps an IANA zone name to a location. Implementations must not
// fall back to a different zone on failure.
type ZoneResolver interface {
	Location(name string) (*time.Location, error)
}

// SystemZones resolves names against the tz database (embedded by the binaries
// through time/tzdata).
type SystemZones struct{}

func (SystemZones) Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	// "Local" depends on the host, not the salon.
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// StaticZones serves a fixed set of locations, e.g. in tests.
type StaticZones map[string]*time.Location

func (z StaticZones) Location(name string) (*time.Location, error) {
	if loc, ok := z[name]; ok && loc != nil {
		return loc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
}
