// Package visibility redacts reservation state for a viewer.
//
// Every read path that exposes an item must build its response through Filter or FilterItem.
// The owner's view of a claimed item is byte-for-byte the same as the view of an unclaimed one.
package visibility

import (
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
)

// Action is a control the viewer may invoke on a reservation.
type Action string

const (
	ActionCancel          Action = "cancel"
	ActionMarkPurchased   Action = "mark_purchased"
	ActionUnmarkPurchased Action = "unmark_purchased"
)

// PublicView is the reservation state a viewer is allowed to see. Both fields are omitted
// from JSON for the owner.
type PublicView struct {
	IsReserved  *bool            `json:"is_reserved,omitempty"`
	Reservation *ReservationView `json:"reservation,omitempty"`
}

// ReservationView is the full claimant-only detail.
type ReservationView struct {
	ID            string     `json:"id"`
	ItemID        string     `json:"item_id"`
	ReservedAt    time.Time  `json:"reserved_at"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
	ClaimantName  string     `json:"claimant_name"`
	ClaimantEmail string     `json:"claimant_email"`
	Anonymous     bool       `json:"anonymous"`
	Actions       []Action   `json:"actions"`
}

// ItemView is an item as serialized to a viewer.
type ItemView struct {
	ID     string `json:"id"`
	ListID string `json:"list_id"`
	Title  string `json:"title"`
	PublicView
}

// Filter maps a reservation (nil when the item is unclaimed) to what role may see.
func Filter(res *domain.Reservation, role Role) PublicView {
	switch role.(type) {
	case Owner:
		return PublicView{}
	case CoAdmin, ThirdParty:
		return PublicView{IsReserved: boolPtr(res != nil)}
	case Claimant:
		if res == nil {
			return PublicView{IsReserved: boolPtr(false)}
		}
		view := Detail(*res)
		return PublicView{IsReserved: boolPtr(true), Reservation: &view}
	default:
		return PublicView{}
	}
}

// FilterItem builds the item response for role.
func FilterItem(item domain.Item, res *domain.Reservation, role Role) ItemView {
	if res != nil && res.ItemID != item.ID {
		res = nil
	}
	return ItemView{
		ID:         item.ID,
		ListID:     item.ListID,
		Title:      item.Title,
		PublicView: Filter(res, role),
	}
}

// Detail renders the claimant's own view of res. Callers must have established that the
// viewer is the claimant.
func Detail(res domain.Reservation) ReservationView {
	view := ReservationView{
		ID:         res.ID,
		ItemID:     res.ItemID,
		ReservedAt: res.ReservedAt,
		Actions:    actionsFor(res),
	}
	if res.PurchasedAt != nil {
		at := *res.PurchasedAt
		view.PurchasedAt = &at
	}
	if res.Claimant != nil {
		view.ClaimantName = res.Claimant.ContactName()
		view.ClaimantEmail = res.Claimant.ContactEmail()
		_, view.Anonymous = res.Claimant.(domain.AnonymousClaimant)
	}
	return view
}

func actionsFor(res domain.Reservation) []Action {
	if res.Purchased() {
		return []Action{ActionCancel, ActionUnmarkPurchased}
	}
	return []Action{ActionCancel, ActionMarkPurchased}
}

func boolPtr(b bool) *bool {
	return &b
}
