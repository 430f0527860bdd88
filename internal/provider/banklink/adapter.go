// Package banklink provides ACH bank-account funding via the Plaid API.
package banklink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// Config holds Plaid adapter configuration.
type Config struct {
	BaseURL       string        `envconfig:"PLAID_BASE_URL" default:"https://production.plaid.com"`
	ClientID      string        `envconfig:"PLAID_CLIENT_ID"`
	Secret        string        `envconfig:"PLAID_SECRET"`
	WebhookSecret string        `envconfig:"PLAID_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"PLAID_TIMEOUT" default:"30s"`
}

// Adapter implements bank-account funding over ACH. Linked accounts start
// pending and activate after micro-deposit verification.
type Adapter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAdapter creates a new Plaid bank adapter.
func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (a *Adapter) Name() string        { return "plaid" }
func (a *Adapter) DisplayName() string { return "Bank Account (ACH)" }

// Available reports whether API credentials are configured.
func (a *Adapter) Available() bool { return a.config.ClientID != "" && a.config.Secret != "" }

// Capabilities declares USD bank-account funding.
func (a *Adapter) Capabilities() []provider.Capability {
	return []provider.Capability{
		{
			SourceType:     provider.SourceTypeBankAccount,
			Currencies:     []money.Currency{money.USD},
			SettlementTime: "1-3 business days",
		},
	}
}

// CreateSource exchanges a public link token for an access token and starts
// micro-deposit verification.
func (a *Adapter) CreateSource(ctx context.Context, tenantID string, params provider.CreateSourceParams) (*provider.SourceResult, error) {
	var exchange struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	err := a.post(ctx, "/item/public_token/exchange", map[string]any{
		"public_token": params.Token,
	}, &exchange)
	if err != nil {
		return nil, err
	}

	var accounts struct {
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Mask      string `json:"mask"`
		} `json:"accounts"`
	}
	err = a.post(ctx, "/accounts/get", map[string]any{
		"access_token": exchange.AccessToken,
	}, &accounts)
	if err != nil {
		return nil, err
	}
	if len(accounts.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts on linked item %s", exchange.ItemID)
	}

	acct := accounts.Accounts[0]

	a.logger.Info("bank account linked",
		"item_id", exchange.ItemID,
		"account_mask", acct.Mask,
	)

	return &provider.SourceResult{
		ProviderSourceID: acct.AccountID,
		Status:           provider.SourceStatusPending,
		DisplayName:      acct.Name,
		LastFour:         acct.Mask,
		Currencies:       []money.Currency{money.USD},
		Metadata: map[string]string{
			"access_token": exchange.AccessToken,
			"item_id":      exchange.ItemID,
		},
	}, nil
}

// VerifySource submits micro-deposit amounts. Two amounts in cents are
// required.
func (a *Adapter) VerifySource(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.VerifySourceParams) (*provider.VerificationResult, error) {
	if len(params.Amounts) != 2 {
		return &provider.VerificationResult{
			Verified:      false,
			Status:        provider.SourceStatusVerifying,
			FailureReason: "two micro-deposit amounts required",
		}, nil
	}

	var resp struct {
		Verified bool   `json:"verified"`
		Reason   string `json:"reason"`
	}
	err := a.post(ctx, "/accounts/verify", map[string]any{
		"access_token": source.Metadata["access_token"],
		"account_id":   source.ProviderSourceID,
		"amounts":      params.Amounts,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Verified {
		return &provider.VerificationResult{
			Verified:      false,
			Status:        provider.SourceStatusFailed,
			FailureReason: resp.Reason,
		}, nil
	}

	return &provider.VerificationResult{
		Verified: true,
		Status:   provider.SourceStatusActive,
	}, nil
}

// RemoveSource unlinks the item.
func (a *Adapter) RemoveSource(ctx context.Context, tenantID string, source *provider.SourceRef) error {
	return a.post(ctx, "/item/remove", map[string]any{
		"access_token": source.Metadata["access_token"],
	}, &struct{}{})
}

// InitiateFunding creates an ACH debit transfer. ACH settles asynchronously,
// so the transaction comes back processing, never completed.
func (a *Adapter) InitiateFunding(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.FundingParams) (*provider.FundingResult, error) {
	var resp struct {
		Transfer struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transfer"`
	}
	err := a.post(ctx, "/transfer/create", map[string]any{
		"access_token": source.Metadata["access_token"],
		"account_id":   source.ProviderSourceID,
		"type":         "debit",
		"network":      "ach",
		"amount":       fmt.Sprintf("%d.%02d", params.Amount.AmountMinor/100, params.Amount.AmountMinor%100),
		"description":  params.Description,
		"metadata": map[string]string{
			"tenant_id": tenantID,
			"source_id": source.ID,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	a.logger.Info("ach transfer created",
		"provider_transaction_id", resp.Transfer.ID,
		"status", resp.Transfer.Status,
		"amount", params.Amount.AmountMinor,
	)

	return &provider.FundingResult{
		ProviderTransactionID: resp.Transfer.ID,
		Status:                transferStatus(resp.Transfer.Status),
	}, nil
}

// transferStatus maps Plaid transfer statuses to the normalized set.
func transferStatus(s string) provider.TransactionStatus {
	switch s {
	case "settled", "funds_available":
		return provider.TxnStatusCompleted
	case "pending", "posted":
		return provider.TxnStatusProcessing
	case "cancelled":
		return provider.TxnStatusCancelled
	case "failed", "returned":
		return provider.TxnStatusFailed
	default:
		return provider.TxnStatusPending
	}
}

// ParseWebhook verifies the HMAC-SHA256 body signature and normalizes
// transfer events.
func (a *Adapter) ParseWebhook(payload []byte, signature string, headers map[string]string) (*provider.WebhookEvent, error) {
	h := hmac.New(sha256.New, []byte(a.config.WebhookSecret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var event struct {
		WebhookType   string `json:"webhook_type"`
		WebhookCode   string `json:"webhook_code"`
		TransferID    string `json:"transfer_id"`
		AccountID     string `json:"account_id"`
		EventType     string `json:"event_type"`
		FailureReason string `json:"failure_reason"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}

	out := &provider.WebhookEvent{
		EventType: fmt.Sprintf("%s.%s", event.WebhookType, event.WebhookCode),
		Provider:  a.Name(),
	}

	if event.TransferID != "" {
		out.ProviderTransactionID = event.TransferID
		out.TransactionStatus = transferStatus(event.EventType)
		if event.FailureReason != "" {
			out.Metadata = map[string]string{"failure_reason": event.FailureReason}
		}
	}

	if event.WebhookType == "ITEM" && event.AccountID != "" {
		out.ProviderSourceID = event.AccountID
		if event.WebhookCode == "ERROR" {
			out.SourceStatus = provider.SourceStatusSuspended
		}
	}

	return out, nil
}

func (a *Adapter) post(ctx context.Context, path string, payload map[string]any, out any) error {
	payload["client_id"] = a.config.ClientID
	payload["secret"] = a.config.Secret

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		var apiErr struct {
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return fmt.Errorf("plaid api error: %s (%s)", apiErr.ErrorMessage, apiErr.ErrorCode)
		}
		return fmt.Errorf("plaid api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
