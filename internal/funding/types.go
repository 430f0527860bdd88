// Package funding orchestrates funding-source lifecycle, fee and FX
// composition, spending limits and webhook reconciliation.
package funding

import (
	"time"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// SourceStatus is the lifecycle status of a funding source.
type SourceStatus string

const (
	SourcePending   SourceStatus = "pending"
	SourceVerifying SourceStatus = "verifying"
	SourceActive    SourceStatus = "active"
	SourceFailed    SourceStatus = "failed"
	SourceSuspended SourceStatus = "suspended"
	SourceRemoved   SourceStatus = "removed"
)

// Rolling limit windows.
const (
	dailyWindow   = 24 * time.Hour
	monthlyWindow = 30 * 24 * time.Hour
)

// Source is a reusable funding instrument bound to one account.
type Source struct {
	ID         string              `json:"id"`
	TenantID   string              `json:"tenant_id"`
	AccountID  string              `json:"account_id"`
	Provider   string              `json:"provider"`
	SourceType provider.SourceType `json:"source_type"`
	Status     SourceStatus        `json:"status"`
	VerifiedAt *time.Time          `json:"verified_at,omitempty"`

	// Display metadata
	DisplayName string `json:"display_name,omitempty"`
	LastFour    string `json:"last_four,omitempty"`
	Brand       string `json:"brand,omitempty"`

	// Provider-side references
	ProviderSourceID string            `json:"provider_source_id,omitempty"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`

	Currencies []money.Currency `json:"currencies"`

	// Limits; nil means unlimited.
	PerTransactionLimitCents *int64 `json:"per_transaction_limit_cents,omitempty"`
	DailyLimitCents          *int64 `json:"daily_limit_cents,omitempty"`
	MonthlyLimitCents        *int64 `json:"monthly_limit_cents,omitempty"`

	// Rolling usage counters and their reset anchors.
	DailyUsedCents   int64     `json:"daily_used_cents"`
	MonthlyUsedCents int64     `json:"monthly_used_cents"`
	DailyResetAt     time.Time `json:"daily_reset_at"`
	MonthlyResetAt   time.Time `json:"monthly_reset_at"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// Lifetime totals.
	TotalFundedCents  int64 `json:"total_funded_cents"`
	TotalTransactions int64 `json:"total_transactions"`

	RemovedAt *time.Time `json:"removed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// sourceTransitions lists the allowed status moves. Removed is terminal and
// reachable from any non-removed state via explicit removal only.
var sourceTransitions = map[SourceStatus][]SourceStatus{
	SourcePending:   {SourceVerifying, SourceFailed, SourceRemoved},
	SourceVerifying: {SourceActive, SourceFailed, SourceSuspended, SourceRemoved},
	SourceActive:    {SourceSuspended, SourceRemoved},
	SourceFailed:    {SourceSuspended, SourceRemoved},
	SourceSuspended: {SourceActive, SourceRemoved},
}

// CanTransitionTo reports whether the status machine permits the move.
func (s *Source) CanTransitionTo(target SourceStatus) bool {
	if s.Status == target {
		return false
	}
	for _, allowed := range sourceTransitions[s.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionTo applies a status move, stamping verification and removal
// timestamps. Removed sources are immutable.
func (s *Source) TransitionTo(target SourceStatus) error {
	if s.Status == SourceRemoved {
		return validationErrorf("source %s is removed and cannot change status", s.ID)
	}
	if !s.CanTransitionTo(target) {
		return validationErrorf("source %s cannot move from %s to %s", s.ID, s.Status, target)
	}

	now := time.Now().UTC()
	s.Status = target
	s.UpdatedAt = now

	switch target {
	case SourceActive:
		if s.VerifiedAt == nil {
			s.VerifiedAt = &now
		}
	case SourceRemoved:
		s.RemovedAt = &now
	}
	return nil
}

// EffectiveDailyUsed returns the daily counter adjusted for the rolling
// window: a reset anchor older than 24h means the counter no longer counts.
// The reset itself is persisted by a background owner, not here.
func (s *Source) EffectiveDailyUsed(now time.Time) int64 {
	if now.Sub(s.DailyResetAt) > dailyWindow {
		return 0
	}
	return s.DailyUsedCents
}

// EffectiveMonthlyUsed is the 30-day analogue of EffectiveDailyUsed.
func (s *Source) EffectiveMonthlyUsed(now time.Time) int64 {
	if now.Sub(s.MonthlyResetAt) > monthlyWindow {
		return 0
	}
	return s.MonthlyUsedCents
}

// CheckLimits validates an amount against per-transaction, daily and monthly
// ceilings. Unset limits are unlimited.
func (s *Source) CheckLimits(amountCents int64, now time.Time) error {
	if s.PerTransactionLimitCents != nil && amountCents > *s.PerTransactionLimitCents {
		return validationErrorf("amount %d exceeds per-transaction limit %d for source %s",
			amountCents, *s.PerTransactionLimitCents, s.ID)
	}

	if s.DailyLimitCents != nil {
		used := s.EffectiveDailyUsed(now)
		if used+amountCents > *s.DailyLimitCents {
			return validationErrorf("amount %d plus daily usage %d exceeds daily limit %d for source %s",
				amountCents, used, *s.DailyLimitCents, s.ID)
		}
	}

	if s.MonthlyLimitCents != nil {
		used := s.EffectiveMonthlyUsed(now)
		if used+amountCents > *s.MonthlyLimitCents {
			return validationErrorf("amount %d plus monthly usage %d exceeds monthly limit %d for source %s",
				amountCents, used, *s.MonthlyLimitCents, s.ID)
		}
	}

	return nil
}

// TransactionStatus is the lifecycle status of a funding transaction.
type TransactionStatus string

const (
	TxnPending    TransactionStatus = "pending"
	TxnProcessing TransactionStatus = "processing"
	TxnCompleted  TransactionStatus = "completed"
	TxnFailed     TransactionStatus = "failed"
	TxnCancelled  TransactionStatus = "cancelled"
	TxnRefunded   TransactionStatus = "refunded"
)

// IsTerminalStatus reports whether the status is write-once.
func IsTerminalStatus(status TransactionStatus) bool {
	switch status {
	case TxnCompleted, TxnFailed, TxnCancelled, TxnRefunded:
		return true
	}
	return false
}

// Transaction is one funding attempt against a source. Amounts are minor
// units in the deposit currency.
type Transaction struct {
	ID         string              `json:"id"`
	TenantID   string              `json:"tenant_id"`
	AccountID  string              `json:"account_id"`
	SourceID   string              `json:"source_id"`
	Provider   string              `json:"provider"`
	SourceType provider.SourceType `json:"source_type"`

	AmountCents int64          `json:"amount_cents"`
	Currency    money.Currency `json:"currency"`

	// Conversion fields, set when the deposit currency differs from the
	// settlement currency.
	ConvertedAmountCents *int64         `json:"converted_amount_cents,omitempty"`
	ConversionRate       *float64       `json:"conversion_rate,omitempty"`
	TargetCurrency       money.Currency `json:"target_currency,omitempty"`

	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`

	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	ProviderMetadata      map[string]string `json:"provider_metadata,omitempty"`

	ProviderFeeCents   int64 `json:"provider_fee_cents"`
	PlatformFeeCents   int64 `json:"platform_fee_cents"`
	ConversionFeeCents int64 `json:"conversion_fee_cents"`
	TotalFeeCents      int64 `json:"total_fee_cents"`

	// IdempotencyKey is unique per tenant when set.
	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	InitiatedAt  time.Time  `json:"initiated_at"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the transaction reached a terminal status.
func (t *Transaction) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

// MergeMetadata folds new provider metadata into the existing map without
// dropping keys already present.
func (t *Transaction) MergeMetadata(metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if t.ProviderMetadata == nil {
		t.ProviderMetadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		t.ProviderMetadata[k] = v
	}
}
