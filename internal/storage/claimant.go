// Package storage holds what the reservation stores share: the claimant column encoding.
package storage

import (
	"fmt"

	"github.com/greirson/gthanks-sub001/internal/domain"
)

const (
	KindAuthenticated = "authenticated"
	KindAnonymous     = "anonymous"
)

// ClaimantRow is the flattened claimant as stored in the reservations table. UserID is set
// only for authenticated claimants and TokenHash only for anonymous ones.
type ClaimantRow struct {
	Kind      string
	UserID    *string
	Name      string
	Email     string
	TokenHash *string
}

func EncodeClaimant(c domain.Claimant) (ClaimantRow, error) {
	switch v := c.(type) {
	case domain.AuthenticatedClaimant:
		id := v.IdentityID
		return ClaimantRow{Kind: KindAuthenticated, UserID: &id, Name: v.Name, Email: v.Email}, nil
	case domain.AnonymousClaimant:
		hash := v.TokenHash
		return ClaimantRow{Kind: KindAnonymous, Name: v.Name, Email: v.Email, TokenHash: &hash}, nil
	default:
		return ClaimantRow{}, fmt.Errorf("unsupported claimant %T", c)
	}
}

func (r ClaimantRow) Decode() (domain.Claimant, error) {
	switch r.Kind {
	case KindAuthenticated:
		if r.UserID == nil {
			return nil, fmt.Errorf("authenticated claimant without user id")
		}
		return domain.AuthenticatedClaimant{IdentityID: *r.UserID, Name: r.Name, Email: r.Email}, nil
	case KindAnonymous:
		if r.TokenHash == nil {
			return nil, fmt.Errorf("anonymous claimant without token hash")
		}
		return domain.AnonymousClaimant{Name: r.Name, Email: r.Email, TokenHash: *r.TokenHash}, nil
	default:
		return nil, fmt.Errorf("unknown claimant kind %q", r.Kind)
	}
}
