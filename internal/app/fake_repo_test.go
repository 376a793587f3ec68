package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/notify"
	"github.com/greirson/gthanks-sub001/internal/ratelimit"
)

type fakeReservationRepo struct {
	mu           sync.Mutex
	items        map[string]domain.Item
	admins       map[string]map[string]bool
	reservations map[string]domain.Reservation
	// failWith makes every reservation read or write return this error.
	failWith error
}

func newFakeReservationRepo(items ...domain.Item) *fakeReservationRepo {
	f := &fakeReservationRepo{
		items:        make(map[string]domain.Item),
		admins:       make(map[string]map[string]bool),
		reservations: make(map[string]domain.Reservation),
	}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *fakeReservationRepo) addAdmin(listID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.admins[listID] == nil {
		f.admins[listID] = make(map[string]bool)
	}
	f.admins[listID][userID] = true
}

func (f *fakeReservationRepo) seed(res domain.Reservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservations[res.ID] = res
}

func (f *fakeReservationRepo) get(id string) (domain.Reservation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	return res, ok
}

func (f *fakeReservationRepo) countForItem(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, res := range f.reservations {
		if res.ItemID == itemID {
			n++
		}
	}
	return n
}

func (f *fakeReservationRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeReservationRepo) GetItem(_ context.Context, itemID string) (domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeReservationRepo) ListItemsByList(_ context.Context, listID string) ([]domain.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Item
	for _, item := range f.items {
		if item.ListID == listID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeReservationRepo) IsListCoAdmin(_ context.Context, listID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[listID][userID], nil
}

func (f *fakeReservationRepo) CreateReservation(_ context.Context, res domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for _, existing := range f.reservations {
		if existing.ItemID == res.ItemID {
			return domain.ErrItemAlreadyReserved
		}
	}
	f.reservations[res.ID] = res
	return nil
}

func (f *fakeReservationRepo) GetReservationForUpdate(_ context.Context, id string) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return domain.Reservation{}, f.failWith
	}
	res, ok := f.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (f *fakeReservationRepo) GetReservationsByIDs(_ context.Context, ids []string) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []domain.Reservation
	for _, id := range ids {
		if res, ok := f.reservations[id]; ok {
			out = append(out, res)
		}
	}
	return out, nil
}

func (f *fakeReservationRepo) GetReservationByItem(_ context.Context, itemID string) (*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.reservations {
		if res.ItemID == itemID {
			r := res
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeReservationRepo) GetReservationByTokenHash(_ context.Context, tokenHash string) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range f.reservations {
		if anon, ok := res.Claimant.(domain.AnonymousClaimant); ok && anon.TokenHash == tokenHash {
			return res, nil
		}
	}
	return domain.Reservation{}, domain.ErrReservationNotFound
}

func (f *fakeReservationRepo) ListReservationsByItems(_ context.Context, itemIDs []string) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = true
	}
	var out []domain.Reservation
	for _, res := range f.reservations {
		if wanted[res.ItemID] {
			out = append(out, res)
		}
	}
	return out, nil
}

func (f *fakeReservationRepo) ListReservationsByClaimant(_ context.Context, userID string) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Reservation
	for _, res := range f.reservations {
		if c, ok := res.Claimant.(domain.AuthenticatedClaimant); ok && c.IdentityID == userID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.After(out[j].ReservedAt) })
	return out, nil
}

func (f *fakeReservationRepo) DeleteReservation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reservations[id]; !ok {
		return domain.ErrReservationNotFound
	}
	delete(f.reservations, id)
	return nil
}

func (f *fakeReservationRepo) SetPurchasedAt(_ context.Context, id string, at *time.Time) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	res.PurchasedAt = at
	f.reservations[res.ID] = res
	return res, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingDispatcher) Dispatch(msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingDispatcher) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

type denyingLimiter struct {
	retryAfter time.Duration
}

func (d denyingLimiter) Check(context.Context, string, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, RetryAfter: d.retryAfter}
}

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) Check(_ context.Context, _ string, key string) ratelimit.Decision {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, key)
	return ratelimit.Decision{Allowed: true}
}
