package domain

import "time"

// Item is a wish that can be claimed. Items are owned by the wish CRUD subsystem; this
// service only reads them.
type Item struct {
	ID      string
	ListID  string
	OwnerID string
	Title   string
}

// Actor is an authenticated identity supplied by the identity resolver.
type Actor struct {
	ID    string
	Email string
	Name  string
}

// Claimant is either AuthenticatedClaimant or AnonymousClaimant.
type Claimant interface {
	claimant()
	ContactName() string
	ContactEmail() string
}

// AuthenticatedClaimant reserved the item with a session. Name and Email are the contact
// values captured at creation time.
type AuthenticatedClaimant struct {
	IdentityID string
	Name       string
	Email      string
}

// AnonymousClaimant reserved the item without a session. Only the digest of the capability
// token is kept.
type AnonymousClaimant struct {
	Name      string
	Email     string
	TokenHash string
}

func (AuthenticatedClaimant) claimant() {}
func (AnonymousClaimant) claimant()     {}

func (c AuthenticatedClaimant) ContactName() string  { return c.Name }
func (c AuthenticatedClaimant) ContactEmail() string { return c.Email }
func (c AnonymousClaimant) ContactName() string      { return c.Name }
func (c AnonymousClaimant) ContactEmail() string     { return c.Email }

// Reservation is a live claim on an item. Cancelling deletes it.
type Reservation struct {
	ID          string
	ItemID      string
	Claimant    Claimant
	ReservedAt  time.Time
	PurchasedAt *time.Time
}

func (r Reservation) Purchased() bool {
	return r.PurchasedAt != nil
}

// ClaimedBy reports whether the authenticated actor is this reservation's claimant.
func (r Reservation) ClaimedBy(actor *Actor) bool {
	if actor == nil {
		return false
	}
	switch c := r.Claimant.(type) {
	case AuthenticatedClaimant:
		return c.IdentityID == actor.ID
	case AnonymousClaimant:
		return false
	default:
		return false
	}
}
