package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/greirson/gthanks-sub001/internal/identity"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ReservationAPI is everything the routes need from the reservation service.
type ReservationAPI interface {
	ReservationCreator
	ReservationCanceller
	PurchaseMarker
	BulkProcessor
	ReservationReader
	ItemViewer
}

type RouterConfig struct {
	Service     ReservationAPI
	Resolver    identity.Resolver
	Store       Pinger
	Metrics     http.Handler
	Logger      *slog.Logger
	CORSOrigins []string
	// TrustedProxies are the peers whose forwarding headers are believed.
	TrustedProxies []netip.Prefix
	// RequestTimeout bounds each API request; zero means 15s.
	RequestTimeout time.Duration
}

// NewRouter wires the reservation routes and the ambient middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HealthHandler)
	if cfg.Store != nil {
		r.Get("/ready", ReadyHandler(cfg.Store))
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	svc := cfg.Service
	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(timeout))
		api.Use(ClientAddress(cfg.TrustedProxies))
		api.Use(Authenticate(cfg.Resolver))

		api.Get("/items/{itemID}", HandleGetItem(svc))
		api.Post("/items/{itemID}/reservations", HandleCreateReservation(svc))
		api.Get("/lists/{listID}/items", HandleListItems(svc))

		api.Route("/reservations", func(rr chi.Router) {
			rr.Get("/", HandleMyReservations(svc))
			rr.Get("/self", HandleReservationByToken(svc))
			rr.Post("/bulk/cancel", HandleBulkCancel(svc))
			rr.Post("/bulk/purchase", HandleBulkMarkPurchased(svc))
			rr.Post("/bulk/unpurchase", HandleBulkUnmarkPurchased(svc))
			rr.Delete("/{id}", HandleCancelReservation(svc))
			rr.Put("/{id}/purchase", HandleMarkPurchased(svc))
			rr.Delete("/{id}/purchase", HandleUnmarkPurchased(svc))
		})
	})

	handler := CORS(cfg.CORSOrigins, r)
	handler = RequestLogger(handler, cfg.Logger)
	handler = middleware.RequestID(handler)
	return otelhttp.NewHandler(handler, "gthanks.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method
		}),
	)
}
