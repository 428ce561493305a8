package domain

import "fmt"

// Origin records which bootstrap tier produced the active database.
type Origin string

// Bootstrap origins in resolution order.
const (
	// OriginPersisted is a snapshot restored from the durable store. The wire
	// value keeps the name used by the browser console.
	OriginPersisted Origin = "indexeddb"
	// OriginPrebuilt is a database image shipped as a static asset.
	OriginPrebuilt Origin = "prebuilt"
	// OriginSchema is an empty database built from the published schema script.
	OriginSchema Origin = "schema"
	// OriginLegacy is a fixture-seeded database built from the embedded DDL.
	OriginLegacy Origin = "legacy"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	switch o {
	case OriginPersisted, OriginPrebuilt, OriginSchema, OriginLegacy:
		return true
	}
	return false
}

// ParseOrigin converts a wire value into an Origin.
func ParseOrigin(s string) (Origin, error) {
	o := Origin(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown origin %q", s)
	}
	return o, nil
}

// Status is the observable initialization state. Exactly one of loading,
// ready(source) or error(message) holds.
type Status struct {
	Initialized bool    `json:"initialized"`
	Source      *Origin `json:"source"`
	Error       *string `json:"error"`
}

// LoadingStatus returns the status published while resolution is in flight.
func LoadingStatus() Status { return Status{} }

// ReadyStatus returns the status for a database produced by origin.
func ReadyStatus(origin Origin) Status {
	o := origin
	return Status{Initialized: true, Source: &o}
}

// ErrorStatus returns the terminal failure status carrying msg.
func ErrorStatus(msg string) Status {
	m := msg
	return Status{Error: &m}
}

// Loading reports whether the status is neither ready nor failed.
func (s Status) Loading() bool { return !s.Initialized && s.Error == nil }

// Ready reports whether a database is available.
func (s Status) Ready() bool { return s.Initialized && s.Error == nil }

// Failed reports whether initialization failed.
func (s Status) Failed() bool { return s.Error != nil }

func (s Status) String() string {
	switch {
	case s.Failed():
		return "error(" + *s.Error + ")"
	case s.Ready() && s.Source != nil:
		return "ready(" + string(*s.Source) + ")"
	default:
		return "loading"
	}
}
