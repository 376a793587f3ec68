package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/greirson/gthanks-sub001/internal/app"
	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/greirson/gthanks-sub001/internal/identity"
	"github.com/greirson/gthanks-sub001/internal/visibility"
)

// ReservationCreator is the minimal interface needed to claim an item.
type ReservationCreator interface {
	CreateReservation(ctx context.Context, in app.CreateReservationInput) (app.CreateReservationResult, error)
}

// ReservationCanceller is the minimal interface needed to cancel a reservation.
type ReservationCanceller interface {
	CancelReservation(ctx context.Context, id string, auth app.ReservationAuth) error
}

// PurchaseMarker toggles the purchased marker.
type PurchaseMarker interface {
	MarkPurchased(ctx context.Context, id string, at *time.Time, auth app.ReservationAuth) (domain.Reservation, error)
	UnmarkPurchased(ctx context.Context, id string, auth app.ReservationAuth) (domain.Reservation, error)
}

// BulkProcessor runs the bulk transitions.
type BulkProcessor interface {
	BulkCancel(ctx context.Context, ids []string, auth app.ReservationAuth) (app.BulkResult, error)
	BulkMarkPurchased(ctx context.Context, ids []string, at *time.Time, auth app.ReservationAuth) (app.BulkResult, error)
	BulkUnmarkPurchased(ctx context.Context, ids []string, auth app.ReservationAuth) (app.BulkResult, error)
}

// ReservationReader serves the claimant's own reservations.
type ReservationReader interface {
	MyReservations(ctx context.Context, actor *domain.Actor) ([]visibility.ReservationView, error)
	ReservationByToken(ctx context.Context, token string) (visibility.ReservationView, error)
}

type createReservationRequest struct {
	ClaimantName  string `json:"claimant_name" validate:"omitempty,max=100"`
	ClaimantEmail string `json:"claimant_email" validate:"omitempty,email,max=254"`
}

type createReservationResponse struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	ReservedAt      time.Time `json:"reserved_at"`
	CapabilityToken string    `json:"capability_token,omitempty"`
}

// HandleCreateReservation returns an HTTP handler for POST /items/{itemID}/reservations.
func HandleCreateReservation(svc ReservationCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReservationRequest
		if !decodeBody(w, r, &req, true) {
			return
		}

		res, err := svc.CreateReservation(r.Context(), app.CreateReservationInput{
			ItemID:            chi.URLParam(r, "itemID"),
			ClaimantName:      req.ClaimantName,
			ClaimantEmail:     req.ClaimantEmail,
			Actor:             identity.ActorFrom(r.Context()),
			ClientFingerprint: clientFingerprint(r),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, createReservationResponse{
			ID:              res.Reservation.ID,
			ItemID:          res.Reservation.ItemID,
			ReservedAt:      res.Reservation.ReservedAt,
			CapabilityToken: res.CapabilityToken,
		})
	}
}

// HandleCancelReservation returns an HTTP handler for DELETE /reservations/{id}.
func HandleCancelReservation(svc ReservationCanceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelReservation(r.Context(), chi.URLParam(r, "id"), authFrom(r)); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type markPurchasedRequest struct {
	PurchasedAt *time.Time `json:"purchased_at"`
}

// HandleMarkPurchased returns an HTTP handler for PUT /reservations/{id}/purchase.
func HandleMarkPurchased(svc PurchaseMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markPurchasedRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		res, err := svc.MarkPurchased(r.Context(), chi.URLParam(r, "id"), req.PurchasedAt, authFrom(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, visibility.Detail(res))
	}
}

// HandleUnmarkPurchased returns an HTTP handler for DELETE /reservations/{id}/purchase.
func HandleUnmarkPurchased(svc PurchaseMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.UnmarkPurchased(r.Context(), chi.URLParam(r, "id"), authFrom(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, visibility.Detail(res))
	}
}

type bulkRequest struct {
	ReservationIDs []string   `json:"reservation_ids" validate:"required,min=1"`
	PurchasedAt    *time.Time `json:"purchased_at,omitempty"`
}

type bulkResponse struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	FailedIDs      []string `json:"failed_ids,omitempty"`
	Message        string   `json:"message"`
}

// HandleBulkCancel returns an HTTP handler for POST /reservations/bulk/cancel.
func HandleBulkCancel(svc BulkProcessor) http.HandlerFunc {
	return handleBulk(func(r *http.Request, req bulkRequest) (app.BulkResult, error) {
		return svc.BulkCancel(r.Context(), req.ReservationIDs, authFrom(r))
	})
}

// HandleBulkMarkPurchased returns an HTTP handler for POST /reservations/bulk/purchase.
func HandleBulkMarkPurchased(svc BulkProcessor) http.HandlerFunc {
	return handleBulk(func(r *http.Request, req bulkRequest) (app.BulkResult, error) {
		return svc.BulkMarkPurchased(r.Context(), req.ReservationIDs, req.PurchasedAt, authFrom(r))
	})
}

// HandleBulkUnmarkPurchased returns an HTTP handler for POST /reservations/bulk/unpurchase.
func HandleBulkUnmarkPurchased(svc BulkProcessor) http.HandlerFunc {
	return handleBulk(func(r *http.Request, req bulkRequest) (app.BulkResult, error) {
		return svc.BulkUnmarkPurchased(r.Context(), req.ReservationIDs, authFrom(r))
	})
}

func handleBulk(run func(r *http.Request, req bulkRequest) (app.BulkResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		result, err := run(r, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bulkResponse{
			Success:        result.Success,
			ProcessedCount: result.ProcessedCount,
			FailedIDs:      result.FailedIDs,
			Message:        result.Message,
		})
	}
}

type reservationListResponse struct {
	Reservations []visibility.ReservationView `json:"reservations"`
}

// HandleMyReservations returns an HTTP handler for GET /reservations.
func HandleMyReservations(svc ReservationReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := svc.MyReservations(r.Context(), identity.ActorFrom(r.Context()))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reservationListResponse{Reservations: views})
	}
}

// HandleReservationByToken returns an HTTP handler for GET /reservations/self.
func HandleReservationByToken(svc ReservationReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.ReservationByToken(r.Context(), authFrom(r).CapabilityToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
