package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// LogSender writes confirmations to the log. Used when no webhook is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "reservation confirmation",
		slog.String("kind", msg.Kind),
		slog.String("reservation_id", msg.ReservationID),
		slog.String("item_id", msg.ItemID),
		slog.String("recipient_email", msg.RecipientEmail),
		slog.Bool("includes_token", msg.CapabilityToken != ""),
	)
	return nil
}

// WebhookSender POSTs each message as JSON to a delivery service.
type WebhookSender struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type WebhookOption func(*WebhookSender)

// WithWebhookRate caps outbound posts at perSecond with the given burst. Workers wait for
// a slot until their send context expires.
func WithWebhookRate(perSecond float64, burst int) WebhookOption {
	return func(s *WebhookSender) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func NewWebhookSender(url string, client *http.Client, opts ...WebhookOption) *WebhookSender {
	if client == nil {
		client = &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	s := &WebhookSender{url: url, client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for webhook slot: %w", err)
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
