package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/greirson/gthanks-sub001/internal/visibility"
)

// ItemViewer serves items already filtered for the requesting viewer.
type ItemViewer interface {
	ItemView(ctx context.Context, itemID string, viewer visibility.Viewer) (visibility.ItemView, error)
	ListItemViews(ctx context.Context, listID string, viewer visibility.Viewer) ([]visibility.ItemView, error)
}

type itemListResponse struct {
	Items []visibility.ItemView `json:"items"`
}

// HandleGetItem returns an HTTP handler for GET /items/{itemID}.
func HandleGetItem(svc ItemViewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.ItemView(r.Context(), chi.URLParam(r, "itemID"), viewerFrom(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleListItems returns an HTTP handler for GET /lists/{listID}/items.
func HandleListItems(svc ItemViewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := svc.ListItemViews(r.Context(), chi.URLParam(r, "listID"), viewerFrom(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, itemListResponse{Items: views})
	}
}
