package visibility

import (
	"github.com/greirson/gthanks-sub001/internal/captoken"
	"github.com/greirson/gthanks-sub001/internal/domain"
)

// Role is the viewer's relationship to an item. The set is closed: Owner, CoAdmin,
// ThirdParty and Claimant are the only implementations.
type Role interface {
	role()
	String() string
}

type (
	Owner      struct{}
	CoAdmin    struct{}
	ThirdParty struct{}
	Claimant   struct{}
)

func (Owner) role()      {}
func (CoAdmin) role()    {}
func (ThirdParty) role() {}
func (Claimant) role()   {}

func (Owner) String() string      { return "owner" }
func (CoAdmin) String() string    { return "co_admin" }
func (ThirdParty) String() string { return "third_party" }
func (Claimant) String() string   { return "claimant" }

// Viewer is whoever is asking to see an item: an authenticated actor, a capability token
// holder, both, or neither.
type Viewer struct {
	Actor           *domain.Actor
	CapabilityToken string
}

// IsClaimant reports whether the viewer may act on res.
func (v Viewer) IsClaimant(res *domain.Reservation) bool {
	if res == nil {
		return false
	}
	switch c := res.Claimant.(type) {
	case domain.AuthenticatedClaimant:
		return v.Actor != nil && v.Actor.ID == c.IdentityID
	case domain.AnonymousClaimant:
		return captoken.Matches(c.TokenHash, v.CapabilityToken)
	default:
		return false
	}
}

// ResolveRole picks the viewer's role for item. Precedence: claimant, owner, co-admin,
// third party. coAdmin is the list membership answer from the sharing subsystem.
func ResolveRole(item domain.Item, res *domain.Reservation, v Viewer, coAdmin bool) Role {
	if v.IsClaimant(res) {
		return Claimant{}
	}
	if v.Actor != nil && v.Actor.ID == item.OwnerID {
		return Owner{}
	}
	if coAdmin {
		return CoAdmin{}
	}
	return ThirdParty{}
}
