// Package provider defines the external payment provider contract and the
// capability-indexed registry used to resolve adapters.
package provider

import (
	"context"

	"fundcore/internal/common/money"
)

// SourceType identifies the kind of funding instrument an adapter handles.
type SourceType string

const (
	SourceTypeCard         SourceType = "card"
	SourceTypeBankAccount  SourceType = "bank_account"
	SourceTypeCryptoWallet SourceType = "crypto_wallet"
)

// SourceStatus is the provider-reported lifecycle status of a source.
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusVerifying SourceStatus = "verifying"
	SourceStatusActive    SourceStatus = "active"
	SourceStatusFailed    SourceStatus = "failed"
	SourceStatusSuspended SourceStatus = "suspended"
)

// TransactionStatus is the provider-reported status of a funding transaction.
type TransactionStatus string

const (
	TxnStatusPending    TransactionStatus = "pending"
	TxnStatusProcessing TransactionStatus = "processing"
	TxnStatusCompleted  TransactionStatus = "completed"
	TxnStatusFailed     TransactionStatus = "failed"
	TxnStatusCancelled  TransactionStatus = "cancelled"
	TxnStatusRefunded   TransactionStatus = "refunded"
)

// Capability declares one source type an adapter supports.
type Capability struct {
	SourceType     SourceType       `json:"source_type"`
	Currencies     []money.Currency `json:"currencies"`
	SettlementTime string           `json:"settlement_time"`
}

// Supports reports whether the capability covers the given currency.
func (c Capability) Supports(currency money.Currency) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// SourceRef is the adapter-facing view of a persisted funding source.
type SourceRef struct {
	ID               string
	TenantID         string
	AccountID        string
	SourceType       SourceType
	ProviderSourceID string
	Metadata         map[string]string
}

// CreateSourceParams are the provider-specific inputs to source creation.
type CreateSourceParams struct {
	AccountID string
	Currency  money.Currency
	// Token is the client-side tokenized instrument (card token, link token,
	// wallet address) as produced by the provider's capture surface.
	Token    string
	Metadata map[string]string
}

// SourceResult is the outcome of creating a source at the provider.
type SourceResult struct {
	ProviderSourceID string
	Status           SourceStatus
	DisplayName      string
	LastFour         string
	Brand            string
	// ClientSecret is returned when the client must confirm the source.
	ClientSecret string
	// RedirectURL is returned when the client must complete a hosted flow.
	RedirectURL string
	Currencies  []money.Currency
	Metadata    map[string]string
}

// VerifySourceParams carry verification inputs such as micro-deposit amounts.
type VerifySourceParams struct {
	Amounts []int64
	Code    string
}

// VerificationResult is the outcome of a verification attempt.
type VerificationResult struct {
	Verified      bool
	Status        SourceStatus
	FailureReason string
}

// FundingParams are the inputs to initiating a funding transaction.
type FundingParams struct {
	Amount      money.Money
	Description string
	Metadata    map[string]string
}

// FundingResult is the outcome of initiating a funding transaction.
type FundingResult struct {
	ProviderTransactionID string
	Status                TransactionStatus
	// ProviderFee is the fee the provider reported for this transaction, in
	// minor units of the deposit currency. Zero when not reported.
	ProviderFee int64
	// ClientSecret/RedirectURL are set when the client must take action.
	ClientSecret string
	RedirectURL  string
	Metadata     map[string]string
}

// WebhookEvent is a normalized, signature-verified provider callback.
type WebhookEvent struct {
	EventType string
	Provider  string
	// Transaction reference, when the event concerns a funding transaction.
	ProviderTransactionID string
	TransactionStatus     TransactionStatus
	// Source reference, when the event concerns a funding source.
	ProviderSourceID string
	SourceStatus     SourceStatus
	Metadata         map[string]string
}

// Adapter wraps one external payment provider. Implementations own
// provider-specific wire formats and webhook signature verification; the
// orchestrator treats parsed events as trusted.
type Adapter interface {
	Name() string
	DisplayName() string
	Available() bool
	Capabilities() []Capability

	CreateSource(ctx context.Context, tenantID string, params CreateSourceParams) (*SourceResult, error)
	VerifySource(ctx context.Context, tenantID string, source *SourceRef, params VerifySourceParams) (*VerificationResult, error)
	RemoveSource(ctx context.Context, tenantID string, source *SourceRef) error
	InitiateFunding(ctx context.Context, tenantID string, source *SourceRef, params FundingParams) (*FundingResult, error)
	ParseWebhook(payload []byte, signature string, headers map[string]string) (*WebhookEvent, error)
}
