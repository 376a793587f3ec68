// Package sqlite is the single-node reservation store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/storage"
	"github.com/greirson/gthanks-sub001/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const reservationColumns = `id, item_id, claimant_kind, claimant_user_id, claimant_name, claimant_email, token_hash, reserved_at, purchased_at`

// Store persists reservations in SQLite. Writes go through a single connection.
type Store struct {
	db *sql.DB
}

type txKey struct{}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.ApplySQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction carried on the context. Nested calls join the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// UpsertItem writes an item row. Items belong to the wish subsystem; this is used to seed
// and to mirror them locally.
func (s *Store) UpsertItem(ctx context.Context, item domain.Item) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
INSERT INTO items (id, list_id, owner_id, title) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET list_id = excluded.list_id, owner_id = excluded.owner_id, title = excluded.title`,
		item.ID, item.ListID, item.OwnerID, item.Title,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// AddListAdmin records userID as a co-admin of listID.
func (s *Store) AddListAdmin(ctx context.Context, listID, userID string) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT OR IGNORE INTO list_admins (list_id, user_id) VALUES (?, ?)`, listID, userID)
	if err != nil {
		return fmt.Errorf("add list admin: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	var item domain.Item
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, list_id, owner_id, title FROM items WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.ListID, &item.OwnerID, &item.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *Store) ListItemsByList(ctx context.Context, listID string) ([]domain.Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id, list_id, owner_id, title FROM items WHERE list_id = ? ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.ListID, &item.OwnerID, &item.Title); err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *Store) IsListCoAdmin(ctx context.Context, listID, userID string) (bool, error) {
	var found int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM list_admins WHERE list_id = ? AND user_id = ?`, listID, userID,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check co-admin: %w", err)
	}
	return true, nil
}

func (s *Store) CreateReservation(ctx context.Context, res domain.Reservation) error {
	row, err := storage.EncodeClaimant(res.Claimant)
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	var purchasedAt *int64
	if res.PurchasedAt != nil {
		v := toMillis(*res.PurchasedAt)
		purchasedAt = &v
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
INSERT INTO reservations (`+reservationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.ItemID,
		row.Kind,
		row.UserID,
		row.Name,
		row.Email,
		row.TokenHash,
		toMillis(res.ReservedAt),
		purchasedAt,
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE) && strings.Contains(err.Error(), "reservations.item_id"):
			return domain.ErrItemAlreadyReserved
		case isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY):
			return domain.ErrItemNotFound
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

// GetReservationForUpdate reads the row inside the caller's transaction. Transactions
// begin IMMEDIATE on the single connection, which serializes writers.
func (s *Store) GetReservationForUpdate(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := scanReservation(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation for update: %w", err)
	}
	return res, nil
}

func (s *Store) GetReservationsByIDs(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	return s.listIn(ctx, "get reservations by ids", `SELECT `+reservationColumns+` FROM reservations WHERE id IN (%s)`, ids)
}

func (s *Store) GetReservationByItem(ctx context.Context, itemID string) (*domain.Reservation, error) {
	res, err := scanReservation(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE item_id = ?`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by item: %w", err)
	}
	return &res, nil
}

func (s *Store) GetReservationByTokenHash(ctx context.Context, tokenHash string) (domain.Reservation, error) {
	res, err := scanReservation(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE token_hash = ?`, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation by token: %w", err)
	}
	return res, nil
}

func (s *Store) ListReservationsByItems(ctx context.Context, itemIDs []string) ([]domain.Reservation, error) {
	return s.listIn(ctx, "list reservations by items", `SELECT `+reservationColumns+` FROM reservations WHERE item_id IN (%s)`, itemIDs)
}

func (s *Store) ListReservationsByClaimant(ctx context.Context, userID string) ([]domain.Reservation, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE claimant_kind = 'authenticated' AND claimant_user_id = ?
ORDER BY reserved_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reservations by claimant: %w", err)
	}
	return collect(rows, "list reservations by claimant")
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if n == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (s *Store) SetPurchasedAt(ctx context.Context, id string, at *time.Time) (domain.Reservation, error) {
	var value *int64
	if at != nil {
		v := toMillis(*at)
		value = &v
	}
	res, err := scanReservation(s.conn(ctx).QueryRowContext(ctx,
		`UPDATE reservations SET purchased_at = ? WHERE id = ? RETURNING `+reservationColumns, value, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("set purchased_at: %w", err)
	}
	return res, nil
}

func (s *Store) listIn(ctx context.Context, op, query string, values []string) ([]domain.Reservation, error) {
	if len(values) == 0 {
		return nil, nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	rows, err := s.conn(ctx).QueryContext(ctx, fmt.Sprintf(query, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collect(rows, op)
}

type scanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows, op string) ([]domain.Reservation, error) {
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanReservation(row scanner) (domain.Reservation, error) {
	var (
		res         domain.Reservation
		claimant    storage.ClaimantRow
		reservedAt  int64
		purchasedAt sql.NullInt64
	)
	err := row.Scan(
		&res.ID,
		&res.ItemID,
		&claimant.Kind,
		&claimant.UserID,
		&claimant.Name,
		&claimant.Email,
		&claimant.TokenHash,
		&reservedAt,
		&purchasedAt,
	)
	if err != nil {
		return domain.Reservation{}, err
	}
	res.Claimant, err = claimant.Decode()
	if err != nil {
		return domain.Reservation{}, err
	}
	res.ReservedAt = fromMillis(reservedAt)
	if purchasedAt.Valid {
		t := fromMillis(purchasedAt.Int64)
		res.PurchasedAt = &t
	}
	return res, nil
}

func isConstraint(err error, code int) bool {
	var sqliteErr *msqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == code
}
