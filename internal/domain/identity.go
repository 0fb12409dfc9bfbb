package domain

// GuestHostID is the reserved host id recorded when a public-share guest
// drives a session. It never collides with a real user id.
const GuestHostID = "guest"

// GuestDisplayName is shown to other participants for a guest.
const GuestDisplayName = "Guest"

// IdentityKind tags the Identity variants.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityGuest         IdentityKind = "guest"
)

// Identity is resolved once per connection and never changes afterwards.
// It is either Authenticated or Guest; callers switch on Kind or use a
// type switch, never on which fields happen to be set.
type Identity interface {
	Kind() IdentityKind
	// ParticipantID is the id recorded as hostId/userId in room state.
	ParticipantID() string
	// DisplayName is the name shown to other participants.
	DisplayName() string
}

// Authenticated is a registered user verified from a bearer credential.
type Authenticated struct {
	ID   string
	Name string
}

func (a Authenticated) Kind() IdentityKind { return IdentityAuthenticated }
func (a Authenticated) ParticipantID() string { return a.ID }
func (a Authenticated) DisplayName() string { return a.Name }

// Guest is an unauthenticated participant admitted through a public share
// token. It is scoped to exactly one video.
type Guest struct {
	VideoID  string
	IsEditor bool
}

func (g Guest) Kind() IdentityKind { return IdentityGuest }
func (g Guest) ParticipantID() string { return GuestHostID }
func (g Guest) DisplayName() string { return GuestDisplayName }
