package certstore

import (
	"fmt"
	"strings"
)

// StoreLocation selects which certificate store root a lookup searches.
type StoreLocation int

const (
	// CurrentUser is the per-user store and the default location.
	CurrentUser StoreLocation = iota
	// LocalMachine is the machine-wide store.
	LocalMachine
)

func (l StoreLocation) String() string {
	switch l {
	case CurrentUser:
		return "CurrentUser"
	case LocalMachine:
		return "LocalMachine"
	default:
		return fmt.Sprintf("StoreLocation(%d)", int(l))
	}
}

// ParseStoreLocation maps a case-insensitive location name to a StoreLocation.
// An empty string selects CurrentUser.
func ParseStoreLocation(s string) (StoreLocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "currentuser":
		return CurrentUser, nil
	case "localmachine":
		return LocalMachine, nil
	default:
		return CurrentUser, fmt.Errorf("%w: %q (want CurrentUser|LocalMachine)", ErrInvalidStoreLocation, s)
	}
}
