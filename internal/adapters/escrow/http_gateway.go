// Package escrow implements the escrow gateway port against the escrow
// service's HTTP API. Requests are HMAC-signed with the shared account key
// and retried with exponential backoff on transient failures.
package escrow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridsettle/clearing-service/internal/domain/ports"
	clearingerrors "github.com/gridsettle/clearing-service/pkg/errors"
	"github.com/gridsettle/clearing-service/pkg/resilience"
)

const defaultMaxAttempts = 3

// Config holds escrow service connection settings
type Config struct {
	BaseURL     string
	AccountID   string
	SigningKey  string // shared secret for HMAC request signing
	MaxAttempts int
}

// HTTPGateway implements ports.EscrowGateway over the escrow service's
// JSON API.
type HTTPGateway struct {
	cfg     Config
	client  *http.Client
	backoff resilience.BackoffStrategy
	logger  ports.Logger
}

// NewHTTPGateway creates a new escrow gateway
func NewHTTPGateway(cfg Config, client *http.Client, logger ports.Logger) *HTTPGateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &HTTPGateway{
		cfg:     cfg,
		client:  client,
		backoff: resilience.DefaultExponentialBackoff(),
		logger:  logger,
	}
}

type reserveRequest struct {
	AccountID  string `json:"account_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type reserveResponse struct {
	Reference string    `json:"reference"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reserve asks the escrow service to hold funds for the settlement run.
// The reference is idempotent on the escrow side: re-reserving the same
// reference extends rather than duplicates the hold.
func (g *HTTPGateway) Reserve(ctx context.Context, amount decimal.Decimal, currency, reference string, ttl time.Duration) (*ports.ReservationResult, error) {
	payload, err := json.Marshal(reserveRequest{
		AccountID:  g.cfg.AccountID,
		Amount:     amount.String(),
		Currency:   currency,
		Reference:  reference,
		TTLSeconds: int64(ttl.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal reserve request: %w", err)
	}

	body, err := g.do(ctx, http.MethodPost, "/v1/reservations", payload)
	if err != nil {
		return nil, err
	}

	var resp reserveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode reserve response: %w", err)
	}
	resultAmount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse reserved amount %q: %w", resp.Amount, err)
	}

	return &ports.ReservationResult{
		Reference: resp.Reference,
		Amount:    resultAmount,
		Currency:  resp.Currency,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Release frees a reservation. Releasing an unknown or already-released
// reference succeeds, so callers can release unconditionally on cleanup.
func (g *HTTPGateway) Release(ctx context.Context, reference string) error {
	endpoint := fmt.Sprintf("/v1/reservations/%s/release", reference)
	_, err := g.do(ctx, http.MethodPost, endpoint, []byte("{}"))
	if clearingerrors.IsNotFound(err) {
		return nil
	}
	return err
}

// do sends one signed request, retrying transient failures with backoff
func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	url := g.cfg.BaseURL + endpoint
	signature := signPayload(g.cfg.SigningKey, endpoint, payload)

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.backoff.NextDelay(attempt - 1)
			g.logger.Warn("retrying escrow request",
				ports.String("endpoint", endpoint),
				ports.Int("attempt", attempt),
				ports.String("delay", delay.String()),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build escrow request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Account-Id", g.cfg.AccountID)
		req.Header.Set("X-Signature", signature)

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("escrow request failed: %w", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read escrow response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("escrow service error: status %d", resp.StatusCode)
			continue
		default:
			// Client errors are definitive; retrying cannot help.
			return nil, mapClientError(resp.StatusCode, body)
		}
	}
	return nil, lastErr
}

// mapClientError converts an escrow 4xx response into a domain error
func mapClientError(status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	if er.Message == "" {
		er.Message = fmt.Sprintf("escrow rejected request with status %d", status)
	}

	switch status {
	case http.StatusPaymentRequired, http.StatusConflict:
		return clearingerrors.New("INSUFFICIENT_FUNDS", er.Message,
			clearingerrors.CategoryInsufficientFunds, true)
	case http.StatusNotFound:
		return clearingerrors.New("RESERVATION_NOT_FOUND", er.Message,
			clearingerrors.CategoryNotFound, false)
	default:
		return clearingerrors.New("ESCROW_REJECTED", er.Message,
			clearingerrors.CategoryData, false)
	}
}

// signPayload calculates the HMAC-SHA256 signature over endpoint + payload
func signPayload(key, endpoint string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(endpoint))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
