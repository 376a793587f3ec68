package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/storage/storetest"
	"github.com/greirson/gthanks-sub001/internal/testutil"
)

func TestReservationRepository(t *testing.T) {
	db := testutil.NewPostgres(t)
	repo := NewReservationRepository(db.Pool)

	storetest.Run(t, func(t *testing.T) storetest.Harness {
		db.Reset(t)
		return storetest.Harness{
			Repo:         repo,
			AddItem:      db.AddItem,
			AddListAdmin: db.AddListAdmin,
		}
	})
}

func TestReservationRepository_ClaimantShapeIsEnforced(t *testing.T) {
	db := testutil.NewPostgres(t)
	db.Reset(t)
	db.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})

	// An anonymous row must carry a token hash.
	_, err := db.Pool.Exec(context.Background(), `
INSERT INTO reservations (id, item_id, claimant_kind, claimant_email, reserved_at)
VALUES ('r-1', 'i-1', 'anonymous', 'guest@example.com', NOW())`)
	if err == nil {
		t.Fatalf("expected check constraint violation")
	}
}

func TestWithTx_JoinsOuterTransaction(t *testing.T) {
	db := testutil.NewPostgres(t)
	db.Reset(t)
	db.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})
	repo := NewReservationRepository(db.Pool)
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := repo.WithTx(ctx, func(outer context.Context) error {
		return repo.WithTx(outer, func(inner context.Context) error {
			if txFromContext(inner) != txFromContext(outer) {
				t.Fatalf("expected nested call to join the outer transaction")
			}
			_, err := conn(inner, db.Pool).Exec(inner, `DELETE FROM items WHERE id = 'i-1'`)
			if err != nil {
				return err
			}
			return errAbort
		})
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	if _, err := repo.GetItem(ctx, "i-1"); err != nil {
		t.Fatalf("expected rollback to keep the item, got %v", err)
	}
}
