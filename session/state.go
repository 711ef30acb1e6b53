package session

// State is the session lifecycle position.
type State int

const (
	Uninitialized State = iota
	Bootstrapping
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Snapshot is an immutable view of the session. Version increases with every
// change so subscribers can drop snapshots older than one they already saw.
type Snapshot struct {
	Identity    *Identity
	State       State
	Loading     bool // A bootstrap or auth operation is in flight
	Initialized bool // The first bootstrap has completed, successfully or not
	Version     uint64
}

// Authenticated reports whether an identity is present.
func (s Snapshot) Authenticated() bool {
	return s.State == Authenticated && s.Identity != nil
}

type state struct {
	identity    *Identity
	phase       State
	loading     bool
	initialized bool
	version     uint64
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		Identity:    s.identity.Clone(),
		State:       s.phase,
		Loading:     s.loading,
		Initialized: s.initialized,
		Version:     s.version,
	}
}

// settle records the outcome of an identity lookup.
func (s *state) settle(identity *Identity) {
	s.loading = false
	s.initialized = true
	s.identity = identity
	if identity != nil {
		s.phase = Authenticated
	} else {
		s.phase = Unauthenticated
	}
}
