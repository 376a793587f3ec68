package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/greirson/gthanks-sub001/internal/captoken"
	"github.com/greirson/gthanks-sub001/internal/clock"
	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/notify"
	"github.com/greirson/gthanks-sub001/internal/ratelimit"
	"github.com/greirson/gthanks-sub001/internal/telemetry"
	"github.com/greirson/gthanks-sub001/internal/visibility"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	anonymousName     = "Anonymous"
	maxNameLength     = 100
	maxEmailLength    = 254
	defaultBulkLimit  = 100
	defaultBulkFanout = 4
)

type ReservationService struct {
	repo       ReservationRepository
	clock      clock.Clock
	limiter    RateChecker
	dispatcher Dispatcher
	logger     *slog.Logger
	validate   *validator.Validate

	requireAuth         bool
	allowOwnerSelfClaim bool
	bulkMaxIDs          int
	bulkConcurrency     int
}

type ReservationServiceOption func(*ReservationService)

func WithRateLimiter(limiter RateChecker) ReservationServiceOption {
	return func(s *ReservationService) {
		if limiter != nil {
			s.limiter = limiter
		}
	}
}

func WithDispatcher(d Dispatcher) ReservationServiceOption {
	return func(s *ReservationService) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

func WithLogger(logger *slog.Logger) ReservationServiceOption {
	return func(s *ReservationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequireAuth rejects anonymous reservations with domain.ErrAuthRequired.
func WithRequireAuth(required bool) ReservationServiceOption {
	return func(s *ReservationService) {
		s.requireAuth = required
	}
}

// WithOwnerSelfClaim lets an item's owner reserve their own item. With it enabled an
// owner's create on an item someone else already claimed fails with
// ErrItemAlreadyReserved, which tells the owner the item is taken. Leave it off where
// claims must stay hidden from owners.
func WithOwnerSelfClaim(allowed bool) ReservationServiceOption {
	return func(s *ReservationService) {
		s.allowOwnerSelfClaim = allowed
	}
}

// WithBulkLimits caps the ids accepted per bulk call and the number processed concurrently.
func WithBulkLimits(maxIDs, concurrency int) ReservationServiceOption {
	return func(s *ReservationService) {
		if maxIDs > 0 {
			s.bulkMaxIDs = maxIDs
		}
		if concurrency > 0 {
			s.bulkConcurrency = concurrency
		}
	}
}

func NewReservationService(repo ReservationRepository, clk clock.Clock, opts ...ReservationServiceOption) *ReservationService {
	svc := &ReservationService{
		repo:            repo,
		clock:           clk,
		limiter:         allowAll{},
		dispatcher:      discardDispatcher{},
		logger:          slog.Default(),
		validate:        validator.New(),
		bulkMaxIDs:      defaultBulkLimit,
		bulkConcurrency: defaultBulkFanout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateReservationInput struct {
	ItemID        string
	ClaimantName  string
	ClaimantEmail string
	// Actor is nil for anonymous callers.
	Actor *domain.Actor
	// ClientFingerprint keys rate limiting for anonymous callers (typically the client IP).
	ClientFingerprint string
}

type CreateReservationResult struct {
	Reservation domain.Reservation
	// CapabilityToken is only set for anonymous claimants and is never available again.
	CapabilityToken string
}

// ReservationAuth is how a caller proves it is the claimant.
type ReservationAuth struct {
	Actor           *domain.Actor
	CapabilityToken string
}

func (a ReservationAuth) viewer() visibility.Viewer {
	return visibility.Viewer{Actor: a.Actor, CapabilityToken: a.CapabilityToken}
}

func (s *ReservationService) CreateReservation(ctx context.Context, in CreateReservationInput) (result CreateReservationResult, err error) {
	ctx, done := s.begin(ctx, "create", attribute.String("item.id", in.ItemID))
	defer func() { done(err) }()

	itemID := strings.TrimSpace(in.ItemID)
	if itemID == "" {
		return CreateReservationResult{}, domain.NewValidationError("item_id", "is required")
	}
	if in.Actor == nil && s.requireAuth {
		return CreateReservationResult{}, domain.ErrAuthRequired
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return CreateReservationResult{}, s.internal(ctx, "get item", err, slog.String("item_id", itemID))
	}

	if in.Actor != nil && in.Actor.ID == item.OwnerID && !s.allowOwnerSelfClaim {
		return CreateReservationResult{}, domain.ErrOwnerSelfClaim
	}

	claimant, token, err := s.buildClaimant(in)
	if err != nil {
		return CreateReservationResult{}, err
	}

	// Only requests that could succeed spend budget.
	decision := s.limiter.Check(ctx, ratelimit.ScopeReservationCreate, rateLimitKey(in.Actor, in.ClientFingerprint, item.ListID))
	telemetry.ObserveRateLimit(decision.Allowed)
	if !decision.Allowed {
		return CreateReservationResult{}, &domain.RateLimitExceededError{RetryAfter: decision.RetryAfter}
	}

	res := domain.Reservation{
		ID:         newID(),
		ItemID:     item.ID,
		Claimant:   claimant,
		ReservedAt: s.clock.Now(),
	}

	// The insert is not abandoned if the caller goes away mid-request.
	if err := s.repo.CreateReservation(context.WithoutCancel(ctx), res); err != nil {
		return CreateReservationResult{}, s.internal(ctx, "create reservation", err,
			slog.String("item_id", item.ID),
			slog.String("reservation_id", res.ID),
		)
	}

	s.dispatcher.Dispatch(notify.Message{
		Kind:            notify.KindReservationCreated,
		ReservationID:   res.ID,
		ItemID:          res.ItemID,
		RecipientName:   claimant.ContactName(),
		RecipientEmail:  claimant.ContactEmail(),
		CapabilityToken: token,
		ReservedAt:      res.ReservedAt,
	})

	return CreateReservationResult{Reservation: res, CapabilityToken: token}, nil
}

func (s *ReservationService) buildClaimant(in CreateReservationInput) (domain.Claimant, string, error) {
	name := strings.TrimSpace(in.ClaimantName)
	email := strings.TrimSpace(in.ClaimantEmail)

	if in.Actor != nil {
		if name == "" {
			name = strings.TrimSpace(in.Actor.Name)
		}
		if email == "" {
			email = strings.TrimSpace(in.Actor.Email)
		}
		if err := s.checkContact(name, email, false); err != nil {
			return nil, "", err
		}
		return domain.AuthenticatedClaimant{IdentityID: in.Actor.ID, Name: name, Email: email}, "", nil
	}

	if name == "" {
		name = anonymousName
	}
	if err := s.checkContact(name, email, true); err != nil {
		return nil, "", err
	}
	token, hash, err := captoken.Mint()
	if err != nil {
		return nil, "", &domain.InternalError{Op: "mint capability token", Err: err}
	}
	return domain.AnonymousClaimant{Name: name, Email: email, TokenHash: hash}, token, nil
}

func (s *ReservationService) checkContact(name, email string, emailRequired bool) error {
	if len(name) > maxNameLength {
		return domain.NewValidationError("claimant_name", "is too long")
	}
	if email == "" {
		if emailRequired {
			return domain.NewValidationError("claimant_email", "is required for anonymous reservations")
		}
		return nil
	}
	if len(email) > maxEmailLength || s.validate.Var(email, "email") != nil {
		return domain.NewValidationError("claimant_email", "must be a valid email address")
	}
	return nil
}

// CancelReservation hard-deletes the reservation, freeing the item.
func (s *ReservationService) CancelReservation(ctx context.Context, id string, auth ReservationAuth) (err error) {
	ctx, done := s.begin(ctx, "cancel", attribute.String("reservation.id", id))
	defer func() { done(err) }()

	return s.cancel(ctx, id, auth)
}

func (s *ReservationService) cancel(ctx context.Context, id string, auth ReservationAuth) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ErrReservationNotFound
	}

	err := s.repo.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		res, err := s.repo.GetReservationForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !auth.viewer().IsClaimant(&res) {
			return domain.ErrNotClaimant
		}
		return s.repo.DeleteReservation(txCtx, id)
	})
	if err != nil {
		return s.internal(ctx, "cancel reservation", err, slog.String("reservation_id", id))
	}
	return nil
}

// MarkPurchased stamps the reservation as bought. A nil at means now.
func (s *ReservationService) MarkPurchased(ctx context.Context, id string, at *time.Time, auth ReservationAuth) (res domain.Reservation, err error) {
	ctx, done := s.begin(ctx, "mark_purchased", attribute.String("reservation.id", id))
	defer func() { done(err) }()

	stamp, err := s.purchaseTime(at)
	if err != nil {
		return domain.Reservation{}, err
	}
	return s.setPurchased(ctx, "mark purchased", id, &stamp, auth)
}

// UnmarkPurchased clears the purchased marker. It is a no-op on an unpurchased reservation.
func (s *ReservationService) UnmarkPurchased(ctx context.Context, id string, auth ReservationAuth) (res domain.Reservation, err error) {
	ctx, done := s.begin(ctx, "unmark_purchased", attribute.String("reservation.id", id))
	defer func() { done(err) }()

	return s.setPurchased(ctx, "unmark purchased", id, nil, auth)
}

func (s *ReservationService) setPurchased(ctx context.Context, op, id string, at *time.Time, auth ReservationAuth) (domain.Reservation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}

	var updated domain.Reservation
	err := s.repo.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		res, err := s.repo.GetReservationForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !auth.viewer().IsClaimant(&res) {
			return domain.ErrNotClaimant
		}
		if at == nil && res.PurchasedAt == nil {
			updated = res
			return nil
		}
		updated, err = s.repo.SetPurchasedAt(txCtx, id, at)
		return err
	})
	if err != nil {
		return domain.Reservation{}, s.internal(ctx, op, err, slog.String("reservation_id", id))
	}
	return updated, nil
}

func (s *ReservationService) purchaseTime(at *time.Time) (time.Time, error) {
	now := s.clock.Now()
	if at == nil {
		return now, nil
	}
	if at.After(now) {
		return time.Time{}, domain.NewValidationError("purchased_at", "must not be in the future")
	}
	return at.UTC(), nil
}

// internal passes expected outcomes through and turns anything else into a logged
// *domain.InternalError.
func (s *ReservationService) internal(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	var ie *domain.InternalError
	if domain.IsExpected(err) {
		return err
	}
	if !errors.As(err, &ie) {
		ie = &domain.InternalError{Op: op, Err: err}
	}
	args := make([]any, 0, len(attrs)+2)
	args = append(args, slog.String("op", op), slog.Any("error", err))
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.ErrorContext(ctx, "reservation store failure", args...)
	return ie
}

// begin opens a span and returns a completion func recording metrics and span status.
func (s *ReservationService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "reservations."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := outcomeOf(err)
		telemetry.ObserveOperation(op, outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		if errors.Is(err, domain.ErrInternal) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal error")
		}
		span.End()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

func rateLimitKey(actor *domain.Actor, fingerprint, listID string) string {
	if actor != nil {
		return "user:" + actor.ID + "|" + listID
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		fingerprint = "unknown"
	}
	// Client addresses are not stored verbatim in the limiter backend.
	return "anon:" + captoken.Hash(fingerprint)[:16] + "|" + listID
}
