package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/greirson/gthanks-sub001/internal/captoken"
	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/visibility"
)

// ItemView returns the item as viewer is allowed to see it. List membership is checked
// upstream; anyone reaching here may see the item itself.
func (s *ReservationService) ItemView(ctx context.Context, itemID string, viewer visibility.Viewer) (visibility.ItemView, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return visibility.ItemView{}, domain.ErrItemNotFound
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return visibility.ItemView{}, s.internal(ctx, "get item", err, slog.String("item_id", itemID))
	}
	res, err := s.repo.GetReservationByItem(ctx, item.ID)
	if err != nil {
		return visibility.ItemView{}, s.internal(ctx, "get reservation by item", err, slog.String("item_id", item.ID))
	}
	coAdmin, err := s.isCoAdmin(ctx, item, viewer)
	if err != nil {
		return visibility.ItemView{}, err
	}
	role := visibility.ResolveRole(item, res, viewer, coAdmin)
	return visibility.FilterItem(item, res, role), nil
}

// ListItemViews filters every item of a list for viewer, in store order.
func (s *ReservationService) ListItemViews(ctx context.Context, listID string, viewer visibility.Viewer) ([]visibility.ItemView, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, domain.NewValidationError("list_id", "is required")
	}
	items, err := s.repo.ListItemsByList(ctx, listID)
	if err != nil {
		return nil, s.internal(ctx, "list items", err, slog.String("list_id", listID))
	}
	views := make([]visibility.ItemView, 0, len(items))
	if len(items) == 0 {
		return views, nil
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}
	reservations, err := s.repo.ListReservationsByItems(ctx, itemIDs)
	if err != nil {
		return nil, s.internal(ctx, "list reservations by items", err, slog.String("list_id", listID))
	}
	byItem := make(map[string]*domain.Reservation, len(reservations))
	for i := range reservations {
		byItem[reservations[i].ItemID] = &reservations[i]
	}

	coAdmin := false
	if viewer.Actor != nil {
		coAdmin, err = s.repo.IsListCoAdmin(ctx, listID, viewer.Actor.ID)
		if err != nil {
			return nil, s.internal(ctx, "check co-admin", err, slog.String("list_id", listID))
		}
	}

	for _, item := range items {
		res := byItem[item.ID]
		role := visibility.ResolveRole(item, res, viewer, coAdmin)
		views = append(views, visibility.FilterItem(item, res, role))
	}
	return views, nil
}

// MyReservations lists the reservations held by actor, newest first.
func (s *ReservationService) MyReservations(ctx context.Context, actor *domain.Actor) ([]visibility.ReservationView, error) {
	if actor == nil {
		return nil, domain.ErrAuthRequired
	}
	reservations, err := s.repo.ListReservationsByClaimant(ctx, actor.ID)
	if err != nil {
		return nil, s.internal(ctx, "list reservations by claimant", err, slog.String("user_id", actor.ID))
	}
	views := make([]visibility.ReservationView, 0, len(reservations))
	for _, res := range reservations {
		views = append(views, visibility.Detail(res))
	}
	return views, nil
}

// ReservationByToken resolves an anonymous claimant's reservation from its capability token.
func (s *ReservationService) ReservationByToken(ctx context.Context, token string) (visibility.ReservationView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return visibility.ReservationView{}, domain.ErrReservationNotFound
	}
	res, err := s.repo.GetReservationByTokenHash(ctx, captoken.Hash(token))
	if err != nil {
		return visibility.ReservationView{}, s.internal(ctx, "get reservation by token", err)
	}
	return visibility.Detail(res), nil
}

func (s *ReservationService) isCoAdmin(ctx context.Context, item domain.Item, viewer visibility.Viewer) (bool, error) {
	if viewer.Actor == nil || viewer.Actor.ID == item.OwnerID {
		return false, nil
	}
	ok, err := s.repo.IsListCoAdmin(ctx, item.ListID, viewer.Actor.ID)
	if err != nil {
		return false, s.internal(ctx, "check co-admin", err, slog.String("list_id", item.ListID))
	}
	return ok, nil
}
