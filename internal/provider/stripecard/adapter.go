// Package stripecard provides card funding via the Stripe API.
package stripecard

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// Config holds Stripe adapter configuration.
type Config struct {
	BaseURL       string        `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com/v1"`
	SecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"30s"`
}

// Adapter implements card funding against Stripe. It is stateless; all
// persistence lives with the orchestrator.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewAdapter creates a new Stripe card adapter.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

func (a *Adapter) Name() string        { return "stripe" }
func (a *Adapter) DisplayName() string { return "Stripe" }

// Available reports whether the adapter has credentials to call out with.
func (a *Adapter) Available() bool { return a.config.SecretKey != "" }

// Capabilities declares card funding in the supported currencies.
func (a *Adapter) Capabilities() []provider.Capability {
	return []provider.Capability{
		{
			SourceType:     provider.SourceTypeCard,
			Currencies:     []money.Currency{money.USD, money.EUR, money.GBP, money.BRL, money.MXN},
			SettlementTime: "instant",
		},
	}
}

// CreateSource attaches a tokenized card as a payment method.
func (a *Adapter) CreateSource(ctx context.Context, tenantID string, params provider.CreateSourceParams) (*provider.SourceResult, error) {
	form := url.Values{}
	form.Set("type", "card")
	form.Set("card[token]", params.Token)
	form.Set("metadata[tenant_id]", tenantID)
	form.Set("metadata[account_id]", params.AccountID)

	var resp struct {
		ID   string `json:"id"`
		Card struct {
			Last4 string `json:"last4"`
			Brand string `json:"brand"`
		} `json:"card"`
	}
	if err := a.post(ctx, "/payment_methods", form, &resp); err != nil {
		return nil, err
	}

	a.logger.Info("stripe payment method created",
		"provider_source_id", resp.ID,
		"brand", resp.Card.Brand,
	)

	// Tokenized cards need no out-of-band verification.
	return &provider.SourceResult{
		ProviderSourceID: resp.ID,
		Status:           provider.SourceStatusActive,
		DisplayName:      fmt.Sprintf("%s ending %s", strings.ToUpper(resp.Card.Brand), resp.Card.Last4),
		LastFour:         resp.Card.Last4,
		Brand:            resp.Card.Brand,
		Currencies:       []money.Currency{params.Currency},
	}, nil
}

// VerifySource is a no-op for cards; the token attach already validated the
// instrument.
func (a *Adapter) VerifySource(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.VerifySourceParams) (*provider.VerificationResult, error) {
	return &provider.VerificationResult{
		Verified: true,
		Status:   provider.SourceStatusActive,
	}, nil
}

// RemoveSource detaches the payment method.
func (a *Adapter) RemoveSource(ctx context.Context, tenantID string, source *provider.SourceRef) error {
	path := fmt.Sprintf("/payment_methods/%s/detach", source.ProviderSourceID)
	return a.post(ctx, path, url.Values{}, &struct{}{})
}

// InitiateFunding creates and confirms a payment intent against the stored
// payment method.
func (a *Adapter) InitiateFunding(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.FundingParams) (*provider.FundingResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount.AmountMinor, 10))
	form.Set("currency", strings.ToLower(string(params.Amount.Currency)))
	form.Set("payment_method", source.ProviderSourceID)
	form.Set("confirm", "true")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	form.Set("metadata[tenant_id]", tenantID)
	form.Set("metadata[source_id]", source.ID)

	var resp struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ClientSecret string `json:"client_secret"`
		NextAction   *struct {
			RedirectToURL struct {
				URL string `json:"url"`
			} `json:"redirect_to_url"`
		} `json:"next_action"`
	}
	if err := a.post(ctx, "/payment_intents", form, &resp); err != nil {
		return nil, err
	}

	result := &provider.FundingResult{
		ProviderTransactionID: resp.ID,
		Status:                intentStatus(resp.Status),
		ClientSecret:          resp.ClientSecret,
	}
	if resp.NextAction != nil {
		result.RedirectURL = resp.NextAction.RedirectToURL.URL
	}

	a.logger.Info("stripe payment intent created",
		"provider_transaction_id", resp.ID,
		"status", resp.Status,
		"amount", params.Amount.AmountMinor,
	)

	return result, nil
}

// intentStatus maps Stripe payment intent statuses to the normalized set.
func intentStatus(s string) provider.TransactionStatus {
	switch s {
	case "succeeded":
		return provider.TxnStatusCompleted
	case "processing":
		return provider.TxnStatusProcessing
	case "canceled":
		return provider.TxnStatusCancelled
	case "requires_payment_method":
		return provider.TxnStatusFailed
	default:
		// requires_action, requires_confirmation and friends.
		return provider.TxnStatusPending
	}
}

// webhookTolerance bounds how old a signed webhook timestamp may be.
const webhookTolerance = 5 * time.Minute

// ParseWebhook verifies a Stripe-Signature header ("t=<ts>,v1=<hmac>") and
// normalizes the event.
func (a *Adapter) ParseWebhook(payload []byte, signature string, headers map[string]string) (*provider.WebhookEvent, error) {
	ts, mac, err := splitSignature(signature)
	if err != nil {
		return nil, err
	}

	at := time.Unix(ts, 0)
	if a.now().Sub(at) > webhookTolerance {
		return nil, fmt.Errorf("webhook timestamp too old: %s", at.UTC().Format(time.RFC3339))
	}

	signed := fmt.Sprintf("%d.%s", ts, payload)
	h := hmac.New(sha256.New, []byte(a.config.WebhookSecret))
	h.Write([]byte(signed))
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID        string `json:"id"`
				Status    string `json:"status"`
				LastError *struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}

	out := &provider.WebhookEvent{
		EventType: event.Type,
		Provider:  a.Name(),
	}

	switch {
	case strings.HasPrefix(event.Type, "payment_intent."):
		out.ProviderTransactionID = event.Data.Object.ID
		out.TransactionStatus = intentStatus(event.Data.Object.Status)
		if event.Type == "payment_intent.payment_failed" {
			out.TransactionStatus = provider.TxnStatusFailed
			if event.Data.Object.LastError != nil {
				out.Metadata = map[string]string{
					"failure_reason": event.Data.Object.LastError.Message,
				}
			}
		}
	case strings.HasPrefix(event.Type, "payment_method."):
		out.ProviderSourceID = event.Data.Object.ID
		if event.Type == "payment_method.detached" {
			out.SourceStatus = provider.SourceStatusSuspended
		}
	}

	return out, nil
}

// splitSignature parses "t=<unix>,v1=<hex>".
func splitSignature(signature string) (int64, string, error) {
	var ts int64
	var mac string

	for _, part := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("bad signature timestamp: %w", err)
			}
			ts = n
		case "v1":
			mac = v
		}
	}

	if ts == 0 || mac == "" {
		return 0, "", fmt.Errorf("malformed signature header")
	}
	return ts, mac, nil
}

func (a *Adapter) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+a.config.SecretKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe api error: %s (%s)", apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("stripe api error: status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
