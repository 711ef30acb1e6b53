package session

import "github.com/jrsteele09/go-auth-console/tokenstore"

// Access is the outcome a route guard acts on.
type Access int

const (
	// AccessPending means the session is still being determined; render a pending view.
	AccessPending Access = iota
	// AccessDenied means the session is confirmed absent; send the user to log in.
	AccessDenied
	// AccessGranted means an identity is present and the stored token is valid.
	AccessGranted
)

func (a Access) String() string {
	switch a {
	case AccessDenied:
		return "denied"
	case AccessGranted:
		return "granted"
	default:
		return "pending"
	}
}

// Evaluate applies the guard contract to a snapshot: pending until the first
// bootstrap is done and nothing is in flight, then both a valid access token
// and an identity are required.
func Evaluate(snap Snapshot, store *tokenstore.Store) Access {
	if !snap.Initialized || snap.Loading {
		return AccessPending
	}
	if store == nil || !store.HasValidAccessToken() {
		return AccessDenied
	}
	if snap.Identity == nil {
		return AccessDenied
	}
	return AccessGranted
}
