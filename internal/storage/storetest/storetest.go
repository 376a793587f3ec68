// Package storetest is the behavioural suite every reservation store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/greirson/gthanks-sub001/internal/app"
	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness is a freshly emptied store plus seeding hooks for the tables the service only reads.
type Harness struct {
	Repo         app.ReservationRepository
	AddItem      func(t *testing.T, item domain.Item)
	AddListAdmin func(t *testing.T, listID, userID string)
}

var base = time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC)

func authenticated(id, itemID, userID string, reservedAt time.Time) domain.Reservation {
	return domain.Reservation{
		ID:         id,
		ItemID:     itemID,
		Claimant:   domain.AuthenticatedClaimant{IdentityID: userID, Name: "User " + userID, Email: userID + "@example.com"},
		ReservedAt: reservedAt,
	}
}

// Run executes the suite. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("items and co-admins", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner", Title: "Kettle"})
		h.AddItem(t, domain.Item{ID: "i-2", ListID: "l-1", OwnerID: "owner", Title: "Mug"})
		h.AddItem(t, domain.Item{ID: "i-3", ListID: "l-2", OwnerID: "owner", Title: "Lamp"})
		h.AddListAdmin(t, "l-1", "helper")

		item, err := h.Repo.GetItem(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner", Title: "Kettle"}, item)

		_, err = h.Repo.GetItem(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		items, err := h.Repo.ListItemsByList(ctx, "l-1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.ElementsMatch(t, []string{"i-1", "i-2"}, []string{items[0].ID, items[1].ID})

		ok, err := h.Repo.IsListCoAdmin(ctx, "l-1", "helper")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = h.Repo.IsListCoAdmin(ctx, "l-2", "helper")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("create and read back", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})

		want := authenticated("r-1", "i-1", "alice", base)
		require.NoError(t, h.Repo.CreateReservation(ctx, want))

		got, err := h.Repo.GetReservationByItem(ctx, "i-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Claimant, got.Claimant)
		assert.True(t, want.ReservedAt.Equal(got.ReservedAt))
		assert.Nil(t, got.PurchasedAt)

		none, err := h.Repo.GetReservationByItem(ctx, "other")
		require.NoError(t, err)
		assert.Nil(t, none)

		err = h.Repo.WithTx(ctx, func(txCtx context.Context) error {
			locked, err := h.Repo.GetReservationForUpdate(txCtx, "r-1")
			if err != nil {
				return err
			}
			assert.Equal(t, "i-1", locked.ItemID)
			_, err = h.Repo.GetReservationForUpdate(txCtx, "missing")
			assert.ErrorIs(t, err, domain.ErrReservationNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("second reservation for an item conflicts", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})

		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-1", "i-1", "alice", base)))
		err := h.Repo.CreateReservation(ctx, authenticated("r-2", "i-1", "bob", base))
		assert.ErrorIs(t, err, domain.ErrItemAlreadyReserved)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("reservation for unknown item", func(t *testing.T) {
		h := newHarness(t)
		err := h.Repo.CreateReservation(context.Background(), authenticated("r-1", "ghost", "alice", base))
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("concurrent creates leave one reservation", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := h.Repo.CreateReservation(ctx, authenticated(fmt.Sprintf("r-%d", i), "i-1", fmt.Sprintf("u-%d", i), base))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, domain.ErrItemAlreadyReserved):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
		all, err := h.Repo.ListReservationsByItems(ctx, []string{"i-1"})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("anonymous claimant by token hash", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})

		anon := domain.Reservation{
			ID:         "r-anon",
			ItemID:     "i-1",
			Claimant:   domain.AnonymousClaimant{Name: "Anonymous", Email: "guest@example.com", TokenHash: "abc123"},
			ReservedAt: base,
		}
		require.NoError(t, h.Repo.CreateReservation(ctx, anon))

		got, err := h.Repo.GetReservationByTokenHash(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, anon.Claimant, got.Claimant)

		_, err = h.Repo.GetReservationByTokenHash(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("purchase marker and delete", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-1", "i-1", "alice", base)))

		at := base.Add(2 * time.Hour)
		res, err := h.Repo.SetPurchasedAt(ctx, "r-1", &at)
		require.NoError(t, err)
		require.NotNil(t, res.PurchasedAt)
		assert.True(t, at.Equal(*res.PurchasedAt))

		res, err = h.Repo.SetPurchasedAt(ctx, "r-1", nil)
		require.NoError(t, err)
		assert.Nil(t, res.PurchasedAt)

		_, err = h.Repo.SetPurchasedAt(ctx, "missing", &at)
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)

		require.NoError(t, h.Repo.DeleteReservation(ctx, "r-1"))
		assert.ErrorIs(t, h.Repo.DeleteReservation(ctx, "r-1"), domain.ErrReservationNotFound)

		// The item is free again.
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-2", "i-1", "bob", base)))
	})

	t.Run("batch reads", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for _, id := range []string{"i-1", "i-2", "i-3"} {
			h.AddItem(t, domain.Item{ID: id, ListID: "l-1", OwnerID: "owner"})
		}
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-1", "i-1", "alice", base)))
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-2", "i-2", "bob", base.Add(time.Minute))))
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-3", "i-3", "alice", base.Add(2*time.Minute))))

		byIDs, err := h.Repo.GetReservationsByIDs(ctx, []string{"r-1", "r-3", "missing"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r-1", "r-3"}, reservationIDs(byIDs))

		byItems, err := h.Repo.ListReservationsByItems(ctx, []string{"i-2", "i-3"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"r-2", "r-3"}, reservationIDs(byItems))

		mine, err := h.Repo.ListReservationsByClaimant(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"r-3", "r-1"}, reservationIDs(mine))
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.AddItem(t, domain.Item{ID: "i-1", ListID: "l-1", OwnerID: "owner"})
		require.NoError(t, h.Repo.CreateReservation(ctx, authenticated("r-1", "i-1", "alice", base)))

		boom := errors.New("boom")
		err := h.Repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := h.Repo.DeleteReservation(txCtx, "r-1"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		still, err := h.Repo.GetReservationByItem(ctx, "i-1")
		require.NoError(t, err)
		require.NotNil(t, still)
		assert.Equal(t, "r-1", still.ID)
	})
}

func reservationIDs(rs []domain.Reservation) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}
