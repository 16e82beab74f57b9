package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"token-wallet/internal/domain"
)

// HTTP talks to a card processor exposing POST {base}/charges.
type HTTP struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTP(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("adapter", "http_payment_gateway"),
	}
}

type chargeBody struct {
	AccountID        string `json:"account_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Charge maps the processor's answer onto a ChargeResult. A failure before the request
// was written cannot have charged anything and is returned as a plain error. Failures
// after that point, 5xx responses and pending charges may hide a completed charge and
// are reported as indeterminate.
func (g *HTTP) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	payload, err := json.Marshal(chargeBody{
		AccountID:        req.AccountID.String(),
		Amount:           req.Amount.String(),
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
	})
	if err != nil {
		return nil, err
	}

	var sent atomic.Bool
	traceCtx := httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sent.Store(true)
			}
		},
	})

	httpReq, err := http.NewRequestWithContext(traceCtx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if !sent.Load() || notSent(err) {
			g.logger.WarnContext(ctx, "charge request not sent", "account_id", req.AccountID, "error", err)
			return nil, fmt.Errorf("charge not sent: %w", err)
		}
		g.logger.ErrorContext(ctx, "charge request failed after send", "account_id", req.AccountID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrChargeIndeterminate, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrChargeIndeterminate, err)
	}

	if resp.StatusCode >= 500 {
		g.logger.ErrorContext(ctx, "gateway server error", "status", resp.StatusCode, "account_id", req.AccountID)
		return nil, fmt.Errorf("%w: gateway returned %d", domain.ErrChargeIndeterminate, resp.StatusCode)
	}

	var out chargeResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrChargeIndeterminate, err)
		}
	}

	if resp.StatusCode < 300 && out.Status == "pending" {
		g.logger.WarnContext(ctx, "charge pending at gateway", "account_id", req.AccountID, "reference", out.ID)
		return &domain.ChargeResult{Reference: out.ID, Indeterminate: true}, nil
	}

	if resp.StatusCode >= 300 || out.Status != "succeeded" {
		reason := out.Reason
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		g.logger.WarnContext(ctx, "charge declined", "account_id", req.AccountID, "reason", reason)
		return &domain.ChargeResult{Accepted: false, Reference: out.ID, Reason: reason}, nil
	}

	return &domain.ChargeResult{Accepted: true, Reference: out.ID}, nil
}

// notSent reports dial and DNS failures, which happen before any byte reaches the processor.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
