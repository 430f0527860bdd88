// Package cryptoramp provides crypto-wallet funding via an internal on-ramp
// service reached over NATS request-reply.
package cryptoramp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// NATS subjects for the on-ramp service.
const (
	SubjectRegisterWallet = "onramp.wallet.register"
	SubjectRemoveWallet   = "onramp.wallet.remove"
	SubjectCreateDeposit  = "onramp.deposit.create"
)

// Config holds on-ramp adapter configuration.
type Config struct {
	WidgetBaseURL  string        `envconfig:"ONRAMP_WIDGET_URL" default:"https://ramp.example.com/widget"`
	WebhookSecret  string        `envconfig:"ONRAMP_WEBHOOK_SECRET"`
	RequestTimeout time.Duration `envconfig:"ONRAMP_TIMEOUT" default:"15s"`
}

// Adapter implements crypto-wallet funding. Wallet sources activate
// immediately; address validation happens at registration.
type Adapter struct {
	config Config
	nc     *nats.Conn
	logger *slog.Logger
}

// NewAdapter creates a new on-ramp adapter.
func NewAdapter(cfg Config, nc *nats.Conn, logger *slog.Logger) *Adapter {
	return &Adapter{
		config: cfg,
		nc:     nc,
		logger: logger,
	}
}

func (a *Adapter) Name() string        { return "cryptoramp" }
func (a *Adapter) DisplayName() string { return "Crypto Wallet" }

// Available reports whether the NATS connection is up.
func (a *Adapter) Available() bool { return a.nc != nil && a.nc.IsConnected() }

// Capabilities declares crypto-wallet funding settling in the stablecoin.
func (a *Adapter) Capabilities() []provider.Capability {
	return []provider.Capability{
		{
			SourceType:     provider.SourceTypeCryptoWallet,
			Currencies:     []money.Currency{money.USDC, money.USD},
			SettlementTime: "minutes",
		},
	}
}

type registerWalletRequest struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
}

type registerWalletResponse struct {
	Success  bool   `json:"success"`
	WalletID string `json:"wallet_id"`
	Network  string `json:"network"`
	Error    string `json:"error,omitempty"`
}

// CreateSource registers a wallet address with the on-ramp service. The token
// is the wallet address.
func (a *Adapter) CreateSource(ctx context.Context, tenantID string, params provider.CreateSourceParams) (*provider.SourceResult, error) {
	req := registerWalletRequest{
		RequestID: ulid.Make().String(),
		TenantID:  tenantID,
		AccountID: params.AccountID,
		Address:   params.Token,
	}

	var resp registerWalletResponse
	if err := a.request(ctx, SubjectRegisterWallet, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("wallet registration rejected: %s", resp.Error)
	}

	a.logger.Info("wallet registered",
		"wallet_id", resp.WalletID,
		"network", resp.Network,
	)

	return &provider.SourceResult{
		ProviderSourceID: resp.WalletID,
		Status:           provider.SourceStatusActive,
		DisplayName:      fmt.Sprintf("Wallet %s", shortAddress(params.Token)),
		LastFour:         lastFour(params.Token),
		Currencies:       []money.Currency{money.USDC, money.USD},
		Metadata: map[string]string{
			"network": resp.Network,
			"address": params.Token,
		},
	}, nil
}

// VerifySource is a no-op; registration already validated the address.
func (a *Adapter) VerifySource(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.VerifySourceParams) (*provider.VerificationResult, error) {
	return &provider.VerificationResult{
		Verified: true,
		Status:   provider.SourceStatusActive,
	}, nil
}

// RemoveSource deregisters the wallet.
func (a *Adapter) RemoveSource(ctx context.Context, tenantID string, source *provider.SourceRef) error {
	req := map[string]string{
		"wallet_id": source.ProviderSourceID,
		"tenant_id": tenantID,
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := a.request(ctx, SubjectRemoveWallet, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("wallet removal rejected: %s", resp.Error)
	}
	return nil
}

type createDepositRequest struct {
	RequestID   string `json:"request_id"`
	TenantID    string `json:"tenant_id"`
	WalletID    string `json:"wallet_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference,omitempty"`
}

type createDepositResponse struct {
	Success   bool   `json:"success"`
	DepositID string `json:"deposit_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// InitiateFunding opens a deposit with the on-ramp and returns the hosted
// widget URL the payer completes the transfer through.
func (a *Adapter) InitiateFunding(ctx context.Context, tenantID string, source *provider.SourceRef, params provider.FundingParams) (*provider.FundingResult, error) {
	req := createDepositRequest{
		RequestID:   ulid.Make().String(),
		TenantID:    tenantID,
		WalletID:    source.ProviderSourceID,
		AmountMinor: params.Amount.AmountMinor,
		Currency:    string(params.Amount.Currency),
		Reference:   params.Description,
	}

	var resp createDepositResponse
	if err := a.request(ctx, SubjectCreateDeposit, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("deposit rejected: %s", resp.Error)
	}

	a.logger.Info("on-ramp deposit opened",
		"deposit_id", resp.DepositID,
		"amount", params.Amount.AmountMinor,
		"currency", params.Amount.Currency,
	)

	return &provider.FundingResult{
		ProviderTransactionID: resp.DepositID,
		Status:                depositStatus(resp.Status),
		RedirectURL:           fmt.Sprintf("%s?deposit=%s", a.config.WidgetBaseURL, resp.DepositID),
	}, nil
}

// depositStatus maps on-ramp deposit statuses to the normalized set.
func depositStatus(s string) provider.TransactionStatus {
	switch s {
	case "CONFIRMED":
		return provider.TxnStatusCompleted
	case "BROADCAST", "CONFIRMING":
		return provider.TxnStatusProcessing
	case "EXPIRED", "REJECTED":
		return provider.TxnStatusFailed
	default:
		return provider.TxnStatusPending
	}
}

// ParseWebhook verifies the HMAC-SHA256 body signature and normalizes
// deposit callbacks.
func (a *Adapter) ParseWebhook(payload []byte, signature string, headers map[string]string) (*provider.WebhookEvent, error) {
	h := hmac.New(sha256.New, []byte(a.config.WebhookSecret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var event struct {
		EventType string `json:"event_type"`
		DepositID string `json:"deposit_id"`
		WalletID  string `json:"wallet_id"`
		Status    string `json:"status"`
		TxHash    string `json:"tx_hash,omitempty"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}

	out := &provider.WebhookEvent{
		EventType: event.EventType,
		Provider:  a.Name(),
	}

	if event.DepositID != "" {
		out.ProviderTransactionID = event.DepositID
		out.TransactionStatus = depositStatus(event.Status)

		metadata := make(map[string]string)
		if event.TxHash != "" {
			metadata["tx_hash"] = event.TxHash
		}
		if event.Reason != "" {
			metadata["failure_reason"] = event.Reason
		}
		if len(metadata) > 0 {
			out.Metadata = metadata
		}
	}

	if event.EventType == "wallet.flagged" && event.WalletID != "" {
		out.ProviderSourceID = event.WalletID
		out.SourceStatus = provider.SourceStatusSuspended
	}

	return out, nil
}

func (a *Adapter) request(ctx context.Context, subject string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	msg, err := a.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("nats request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func lastFour(addr string) string {
	if len(addr) < 4 {
		return addr
	}
	return addr[len(addr)-4:]
}
