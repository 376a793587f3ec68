package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// BulkResult reports a bulk transition. Success is true only when every id succeeded;
// the ids that did succeed stay mutated either way.
type BulkResult struct {
	Success        bool
	ProcessedCount int
	FailedIDs      []string
	Message        string
}

func (s *ReservationService) BulkCancel(ctx context.Context, ids []string, auth ReservationAuth) (BulkResult, error) {
	return s.bulk(ctx, "bulk_cancel", "cancelled", ids, auth, nil, func(ctx context.Context, id string) error {
		return s.cancel(ctx, id, auth)
	})
}

func (s *ReservationService) BulkMarkPurchased(ctx context.Context, ids []string, at *time.Time, auth ReservationAuth) (BulkResult, error) {
	var stamp time.Time
	check := func() (err error) {
		stamp, err = s.purchaseTime(at)
		return err
	}
	return s.bulk(ctx, "bulk_mark_purchased", "marked purchased", ids, auth, check, func(ctx context.Context, id string) error {
		_, err := s.setPurchased(ctx, "mark purchased", id, &stamp, auth)
		return err
	})
}

func (s *ReservationService) BulkUnmarkPurchased(ctx context.Context, ids []string, auth ReservationAuth) (BulkResult, error) {
	return s.bulk(ctx, "bulk_unmark_purchased", "unmarked", ids, auth, nil, func(ctx context.Context, id string) error {
		_, err := s.setPurchased(ctx, "unmark purchased", id, nil, auth)
		return err
	})
}

func (s *ReservationService) bulk(
	ctx context.Context,
	op, verb string,
	rawIDs []string,
	auth ReservationAuth,
	check func() error,
	apply func(ctx context.Context, id string) error,
) (result BulkResult, err error) {
	ctx, done := s.begin(ctx, op, attribute.Int("ids.count", len(rawIDs)))
	defer func() { done(err) }()

	if auth.Actor == nil {
		return BulkResult{}, domain.ErrAuthRequired
	}
	ids, err := s.normalizeIDs(rawIDs)
	if err != nil {
		return BulkResult{}, err
	}
	// check rejects the whole call before any id is touched.
	if check != nil {
		if err := check(); err != nil {
			return BulkResult{}, err
		}
	}

	existing, err := s.repo.GetReservationsByIDs(ctx, ids)
	if err != nil {
		return BulkResult{}, s.internal(ctx, "prefetch bulk reservations", err)
	}
	claimable := make(map[string]bool, len(existing))
	viewer := auth.viewer()
	for i := range existing {
		if viewer.IsClaimant(&existing[i]) {
			claimable[existing[i].ID] = true
		}
	}

	failed := make([]bool, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(s.bulkConcurrency)
	for i, id := range ids {
		if !claimable[id] {
			failed[i] = true
			continue
		}
		g.Go(func() error {
			// Each id is its own unit of work; errors are recorded, never propagated.
			if err := apply(ctx, id); err != nil {
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	result = BulkResult{}
	for i, id := range ids {
		if failed[i] {
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.ProcessedCount++
	}
	result.Success = len(result.FailedIDs) == 0
	result.Message = bulkMessage(verb, result.ProcessedCount, len(ids))
	telemetry.ObserveBulkItems(op, result.ProcessedCount, len(result.FailedIDs))
	return result, nil
}

// normalizeIDs trims, drops blanks and collapses duplicates, keeping first-seen order.
func (s *ReservationService) normalizeIDs(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, domain.NewValidationError("reservation_ids", "must not be empty")
	}
	if len(ids) > s.bulkMaxIDs {
		return nil, domain.NewValidationError("reservation_ids", fmt.Sprintf("must not exceed %d ids", s.bulkMaxIDs))
	}
	return ids, nil
}

func bulkMessage(verb string, processed, total int) string {
	if processed == total {
		return fmt.Sprintf("%d reservation(s) %s", processed, verb)
	}
	return fmt.Sprintf("%d of %d reservation(s) %s", processed, total, verb)
}
