package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const reservationColumns = `id, item_id, claimant_kind, claimant_user_id, claimant_name, claimant_email, token_hash, reserved_at, purchased_at`

type ReservationRepository struct {
	pool *pgxpool.Pool
}

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func (r *ReservationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *ReservationRepository) db(ctx context.Context) querier {
	return conn(ctx, r.pool)
}

// Ping reports whether the pool can reach the database.
func (r *ReservationRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *ReservationRepository) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	const query = `SELECT id, list_id, owner_id, title FROM items WHERE id = $1`
	var item domain.Item
	err := r.db(ctx).QueryRow(ctx, query, itemID).Scan(&item.ID, &item.ListID, &item.OwnerID, &item.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *ReservationRepository) ListItemsByList(ctx context.Context, listID string) ([]domain.Item, error) {
	const query = `SELECT id, list_id, owner_id, title FROM items WHERE list_id = $1 ORDER BY created_at, id`
	rows, err := r.db(ctx).Query(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Item, error) {
		var item domain.Item
		err := row.Scan(&item.ID, &item.ListID, &item.OwnerID, &item.Title)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (r *ReservationRepository) IsListCoAdmin(ctx context.Context, listID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM list_admins WHERE list_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.db(ctx).QueryRow(ctx, query, listID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check co-admin: %w", err)
	}
	return ok, nil
}

func (r *ReservationRepository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	row, err := storage.EncodeClaimant(res.Claimant)
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	const stmt = `
INSERT INTO reservations (id, item_id, claimant_kind, claimant_user_id, claimant_name, claimant_email, token_hash, reserved_at, purchased_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db(ctx).Exec(ctx, stmt,
		res.ID,
		res.ItemID,
		row.Kind,
		row.UserID,
		row.Name,
		row.Email,
		row.TokenHash,
		res.ReservedAt,
		res.PurchasedAt,
	)
	if err != nil {
		if mapped := insertError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`
	res, err := scanReservation(r.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation for update: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) GetReservationsByIDs(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ANY($1)`
	return r.collect(ctx, "get reservations by ids", query, ids)
}

func (r *ReservationRepository) GetReservationByItem(ctx context.Context, itemID string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE item_id = $1`
	res, err := scanReservation(r.db(ctx).QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by item: %w", err)
	}
	return &res, nil
}

func (r *ReservationRepository) GetReservationByTokenHash(ctx context.Context, tokenHash string) (domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE token_hash = $1`
	res, err := scanReservation(r.db(ctx).QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation by token: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) ListReservationsByItems(ctx context.Context, itemIDs []string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE item_id = ANY($1)`
	return r.collect(ctx, "list reservations by items", query, itemIDs)
}

func (r *ReservationRepository) ListReservationsByClaimant(ctx context.Context, userID string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
WHERE claimant_kind = 'authenticated' AND claimant_user_id = $1
ORDER BY reserved_at DESC, id`
	return r.collect(ctx, "list reservations by claimant", query, userID)
}

func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) SetPurchasedAt(ctx context.Context, id string, at *time.Time) (domain.Reservation, error) {
	query := `UPDATE reservations SET purchased_at = $2 WHERE id = $1 RETURNING ` + reservationColumns
	res, err := scanReservation(r.db(ctx).QueryRow(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("set purchased_at: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) collect(ctx context.Context, op, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reservation, error) {
		return scanReservation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var (
		res         domain.Reservation
		claimant    storage.ClaimantRow
		purchasedAt *time.Time
	)
	err := row.Scan(
		&res.ID,
		&res.ItemID,
		&claimant.Kind,
		&claimant.UserID,
		&claimant.Name,
		&claimant.Email,
		&claimant.TokenHash,
		&res.ReservedAt,
		&purchasedAt,
	)
	if err != nil {
		return domain.Reservation{}, err
	}
	res.Claimant, err = claimant.Decode()
	if err != nil {
		return domain.Reservation{}, err
	}
	res.ReservedAt = res.ReservedAt.UTC()
	if purchasedAt != nil {
		t := purchasedAt.UTC()
		res.PurchasedAt = &t
	}
	return res, nil
}
