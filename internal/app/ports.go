package app

import (
	"context"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/notify"
	"github.com/greirson/gthanks-sub001/internal/ratelimit"
)

// ReservationRepository is the store contract. Implementations map their uniqueness
// violation on item_id to domain.ErrItemAlreadyReserved and missing rows to
// domain.ErrItemNotFound / domain.ErrReservationNotFound.
type ReservationRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetItem(ctx context.Context, itemID string) (domain.Item, error)
	ListItemsByList(ctx context.Context, listID string) ([]domain.Item, error)
	IsListCoAdmin(ctx context.Context, listID, userID string) (bool, error)

	CreateReservation(ctx context.Context, res domain.Reservation) error
	GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error)
	GetReservationsByIDs(ctx context.Context, ids []string) ([]domain.Reservation, error)
	GetReservationByItem(ctx context.Context, itemID string) (*domain.Reservation, error)
	GetReservationByTokenHash(ctx context.Context, tokenHash string) (domain.Reservation, error)
	ListReservationsByItems(ctx context.Context, itemIDs []string) ([]domain.Reservation, error)
	ListReservationsByClaimant(ctx context.Context, userID string) ([]domain.Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
	SetPurchasedAt(ctx context.Context, id string, at *time.Time) (domain.Reservation, error)
}

// RateChecker is satisfied by *ratelimit.Guard.
type RateChecker interface {
	Check(ctx context.Context, scope, key string) ratelimit.Decision
}

// Dispatcher is satisfied by *notify.Dispatcher.
type Dispatcher interface {
	Dispatch(msg notify.Message)
}

type allowAll struct{}

func (allowAll) Check(context.Context, string, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true}
}

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(notify.Message) {}
