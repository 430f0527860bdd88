package funding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"fundcore/internal/common/database"
	"fundcore/internal/common/middleware"
	"fundcore/internal/common/money"
	"fundcore/internal/fees"
	"fundcore/internal/fx"
	"fundcore/internal/provider"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	AccountExists(ctx context.Context, tenantID, accountID string) (bool, error)

	CreateSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, tenantID, sourceID string) (*Source, error)
	GetSourceByProviderID(ctx context.Context, providerName, providerSourceID string) (*Source, error)
	ListSources(ctx context.Context, tenantID, accountID string) ([]*Source, error)
	UpdateSource(ctx context.Context, src *Source) error
	IncrementUsage(ctx context.Context, sourceID string, amountCents int64, usedAt time.Time) error
	IncrementLifetimeTotals(ctx context.Context, sourceID string, amountCents int64) error

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, tenantID, txnID string) (*Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error)
	GetTransactionByProviderID(ctx context.Context, providerName, providerTxnID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID, sourceID string, limit int) ([]*Transaction, error)
	ApplyStatusUpdate(ctx context.Context, t *Transaction) (bool, error)
	MergeTransactionMetadata(ctx context.Context, txnID string, metadata map[string]string) error
}

// Publisher publishes domain events. Event delivery is best-effort; a publish
// failure never fails the funding operation that produced it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Service orchestrates funding sources, transactions, fees, conversions and
// webhook reconciliation.
type Service struct {
	store      Store
	registry   *provider.Registry
	feeEngine  *fees.Engine
	fxEngine   *fx.Engine
	publisher  Publisher
	settlement money.Currency
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a funding service. settlement is the currency deposits
// settle into when the request does not name a target currency.
func NewService(
	store Store,
	registry *provider.Registry,
	feeEngine *fees.Engine,
	fxEngine *fx.Engine,
	publisher Publisher,
	settlement money.Currency,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		feeEngine:  feeEngine,
		fxEngine:   fxEngine,
		publisher:  publisher,
		settlement: settlement,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateSourceRequest is the input to source creation.
type CreateSourceRequest struct {
	AccountID  string              `json:"account_id" validate:"required"`
	Provider   string              `json:"provider"`
	SourceType provider.SourceType `json:"source_type" validate:"required,oneof=card bank_account crypto_wallet"`
	Currency   money.Currency      `json:"currency" validate:"required,len=3|len=4"`
	Token      string              `json:"token" validate:"required"`

	DisplayName string `json:"display_name"`

	PerTransactionLimitCents *int64 `json:"per_transaction_limit_cents"`
	DailyLimitCents          *int64 `json:"daily_limit_cents"`
	MonthlyLimitCents        *int64 `json:"monthly_limit_cents"`

	Metadata map[string]string `json:"metadata"`
}

// CreateSource registers a funding instrument with a provider and persists it.
// An empty Provider selects the first registered adapter covering the source
// type and currency.
func (s *Service) CreateSource(ctx context.Context, tenantID string, req CreateSourceRequest) (*Source, error) {
	exists, err := s.store.AccountExists(ctx, tenantID, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("checking account %s: %w", req.AccountID, err)
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", req.AccountID, ErrNotFound)
	}

	adapter, err := s.resolveAdapter(req.Provider, req.SourceType, req.Currency)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateSource(ctx, tenantID, provider.CreateSourceParams{
		AccountID: req.AccountID,
		Currency:  req.Currency,
		Token:     req.Token,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, &ProviderError{Provider: adapter.Name(), Op: "create source", Err: err}
	}

	now := s.now().UTC()
	src := &Source{
		ID:               ulid.Make().String(),
		TenantID:         tenantID,
		AccountID:        req.AccountID,
		Provider:         adapter.Name(),
		SourceType:       req.SourceType,
		Status:           SourceStatus(result.Status),
		DisplayName:      firstNonEmpty(req.DisplayName, result.DisplayName),
		LastFour:         result.LastFour,
		Brand:            result.Brand,
		ProviderSourceID: result.ProviderSourceID,
		ProviderMetadata: result.Metadata,
		Currencies:       result.Currencies,

		PerTransactionLimitCents: req.PerTransactionLimitCents,
		DailyLimitCents:          req.DailyLimitCents,
		MonthlyLimitCents:        req.MonthlyLimitCents,

		DailyResetAt:   now,
		MonthlyResetAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(src.Currencies) == 0 {
		src.Currencies = []money.Currency{req.Currency}
	}
	if src.Status == SourceActive {
		src.VerifiedAt = &now
	}

	if err := s.store.CreateSource(ctx, src); err != nil {
		return nil, err
	}

	s.publish(ctx, SubjectSourceCreated, EventSourceCreated, tenantID, SourceCreatedEvent{
		SourceID:   src.ID,
		AccountID:  src.AccountID,
		Provider:   src.Provider,
		SourceType: src.SourceType,
		Status:     src.Status,
	})

	s.logger.Info("funding source created",
		"source_id", src.ID,
		"tenant_id", tenantID,
		"provider", src.Provider,
		"source_type", src.SourceType,
		"status", src.Status,
	)

	return src, nil
}

// VerifySource submits verification input (micro-deposit amounts, codes) for a
// pending or verifying source.
func (s *Service) VerifySource(ctx context.Context, tenantID, sourceID string, params provider.VerifySourceParams) (*Source, error) {
	src, err := s.getSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}

	if src.Status != SourcePending && src.Status != SourceVerifying {
		return nil, validationErrorf("source %s is %s and not awaiting verification", src.ID, src.Status)
	}

	adapter, err := s.registry.Resolve(src.Provider, src.SourceType)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}

	result, err := adapter.VerifySource(ctx, tenantID, src.providerRef(), params)
	if err != nil {
		return nil, &ProviderError{Provider: adapter.Name(), Op: "verify source", Err: err}
	}

	from := src.Status
	target := SourceFailed
	if result.Verified {
		target = SourceActive
	}

	// pending sources pass through verifying before activating.
	if target == SourceActive && src.Status == SourcePending {
		if err := src.TransitionTo(SourceVerifying); err != nil {
			return nil, err
		}
	}
	if err := src.TransitionTo(target); err != nil {
		return nil, err
	}

	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, err
	}

	s.publish(ctx, SubjectSourceStatus, EventSourceStatusMoved, tenantID, SourceStatusEvent{
		SourceID: src.ID,
		From:     from,
		To:       src.Status,
		Reason:   result.FailureReason,
	})

	return src, nil
}

// RemoveSource removes the instrument at the provider and soft-removes the
// local record. Removal is terminal.
func (s *Service) RemoveSource(ctx context.Context, tenantID, sourceID string) (*Source, error) {
	src, err := s.getSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Status == SourceRemoved {
		return src, nil
	}

	if adapter, err := s.registry.Resolve(src.Provider, src.SourceType); err == nil {
		if err := adapter.RemoveSource(ctx, tenantID, src.providerRef()); err != nil {
			// Provider-side removal is best-effort; the local record still
			// goes to removed so the instrument cannot be used again.
			s.logger.Warn("provider-side source removal failed",
				"source_id", src.ID,
				"provider", src.Provider,
				"error", err,
			)
		}
	}

	from := src.Status
	if err := src.TransitionTo(SourceRemoved); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, err
	}

	s.publish(ctx, SubjectSourceStatus, EventSourceStatusMoved, tenantID, SourceStatusEvent{
		SourceID: src.ID,
		From:     from,
		To:       SourceRemoved,
	})

	return src, nil
}

// SuspendSource blocks a source from funding without removing it.
func (s *Service) SuspendSource(ctx context.Context, tenantID, sourceID, reason string) (*Source, error) {
	return s.moveSource(ctx, tenantID, sourceID, SourceSuspended, reason)
}

// ResumeSource reactivates a suspended source.
func (s *Service) ResumeSource(ctx context.Context, tenantID, sourceID string) (*Source, error) {
	return s.moveSource(ctx, tenantID, sourceID, SourceActive, "")
}

func (s *Service) moveSource(ctx context.Context, tenantID, sourceID string, target SourceStatus, reason string) (*Source, error) {
	src, err := s.getSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}

	from := src.Status
	if err := src.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, err
	}

	s.publish(ctx, SubjectSourceStatus, EventSourceStatusMoved, tenantID, SourceStatusEvent{
		SourceID: src.ID,
		From:     from,
		To:       target,
		Reason:   reason,
	})

	return src, nil
}

// GetSource retrieves one source for the tenant.
func (s *Service) GetSource(ctx context.Context, tenantID, sourceID string) (*Source, error) {
	return s.getSource(ctx, tenantID, sourceID)
}

// ListSources lists the tenant's sources, optionally narrowed to one account.
func (s *Service) ListSources(ctx context.Context, tenantID, accountID string) ([]*Source, error) {
	return s.store.ListSources(ctx, tenantID, accountID)
}

// FundingRequest is the input to initiating a funding transaction.
type FundingRequest struct {
	SourceID    string         `json:"source_id" validate:"required"`
	AmountCents int64          `json:"amount_cents" validate:"required,gt=0"`
	Currency    money.Currency `json:"currency" validate:"required,len=3|len=4"`
	// TargetCurrency overrides the configured settlement currency. Equal to
	// the deposit currency means no conversion.
	TargetCurrency money.Currency    `json:"target_currency"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata"`
}

// InitiateFunding creates a funding transaction: limit checks, fee
// computation, currency conversion, provider initiation and the idempotent
// insert. A replayed idempotency key returns the original transaction
// without re-charging.
func (s *Service) InitiateFunding(ctx context.Context, tenantID string, req FundingRequest) (*Transaction, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.store.GetTransactionByIdempotencyKey(ctx, tenantID, req.IdempotencyKey)
		if err == nil {
			s.logger.Info("idempotent funding replay",
				"transaction_id", existing.ID,
				"idempotency_key", req.IdempotencyKey,
			)
			return existing, nil
		}
		if !database.IsNotFound(err) {
			return nil, err
		}
	}

	src, err := s.getSource(ctx, tenantID, req.SourceID)
	if err != nil {
		return nil, err
	}
	if src.Status != SourceActive {
		return nil, validationErrorf("source %s is %s and cannot fund", src.ID, src.Status)
	}
	if !supportsCurrency(src.Currencies, req.Currency) {
		return nil, validationErrorf("source %s does not support currency %s", src.ID, req.Currency)
	}

	now := s.now().UTC()
	if err := src.CheckLimits(req.AmountCents, now); err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(src.Provider, src.SourceType)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, ErrNotFound)
	}

	breakdown, err := s.feeEngine.Compute(ctx, tenantID, src.Provider, src.SourceType, req.Currency, req.AmountCents)
	if err != nil {
		return nil, err
	}

	target := req.TargetCurrency
	if target == "" {
		target = s.settlement
	}

	// Conversion is resolved before the provider call so an unavailable pair
	// fails fast without touching the provider.
	var conversion *fx.Result
	if target != req.Currency {
		net := req.AmountCents - breakdown.TotalFee
		conversion, err = s.fxEngine.Execute(req.Currency, target, net)
		if err != nil {
			return nil, err
		}
	}

	result, err := adapter.InitiateFunding(ctx, tenantID, src.providerRef(), provider.FundingParams{
		Amount:      money.New(req.AmountCents, req.Currency),
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, &ProviderError{Provider: adapter.Name(), Op: "initiate funding", Err: err}
	}

	txn := &Transaction{
		ID:         ulid.Make().String(),
		TenantID:   tenantID,
		AccountID:  src.AccountID,
		SourceID:   src.ID,
		Provider:   src.Provider,
		SourceType: src.SourceType,

		AmountCents: req.AmountCents,
		Currency:    req.Currency,

		Status:                TransactionStatus(result.Status),
		ProviderTransactionID: result.ProviderTransactionID,
		ProviderMetadata:      result.Metadata,

		ProviderFeeCents: breakdown.ProviderFee,
		PlatformFeeCents: breakdown.PlatformFee,
		TotalFeeCents:    breakdown.TotalFee,

		InitiatedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		txn.IdempotencyKey = &key
	}
	if conversion != nil {
		converted := conversion.ToAmount
		rate, _ := conversion.Rate.Float64()
		txn.ConvertedAmountCents = &converted
		txn.ConversionRate = &rate
		txn.TargetCurrency = target
		txn.ConversionFeeCents = conversion.ConversionFee
		txn.TotalFeeCents += conversion.ConversionFee
	}
	// The provider-reported fee is recorded for reconciliation; the computed
	// breakdown stays authoritative for what the tenant is charged.
	if result.ProviderFee > 0 && result.ProviderFee != breakdown.ProviderFee {
		txn.MergeMetadata(map[string]string{
			"provider_reported_fee_cents": fmt.Sprintf("%d", result.ProviderFee),
		})
	}
	switch txn.Status {
	case TxnProcessing:
		txn.ProcessingAt = &now
	case TxnCompleted:
		txn.CompletedAt = &now
	case TxnFailed:
		txn.FailedAt = &now
	}

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		// A concurrent request with the same key won the insert race; the
		// unique index makes exactly one row exist. Return the winner.
		if database.IsUniqueViolation(err) && req.IdempotencyKey != "" {
			return s.store.GetTransactionByIdempotencyKey(ctx, tenantID, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}

	if err := s.store.IncrementUsage(ctx, src.ID, req.AmountCents, now); err != nil {
		s.logger.Error("incrementing source usage failed",
			"source_id", src.ID,
			"transaction_id", txn.ID,
			"error", err,
		)
	}
	if txn.Status == TxnCompleted {
		if err := s.store.IncrementLifetimeTotals(ctx, src.ID, req.AmountCents); err != nil {
			s.logger.Error("incrementing lifetime totals failed",
				"source_id", src.ID,
				"transaction_id", txn.ID,
				"error", err,
			)
		}
	}

	s.publish(ctx, SubjectTransactionCreate, EventTransactionCreated, tenantID, TransactionCreatedEvent{
		TransactionID: txn.ID,
		SourceID:      src.ID,
		AccountID:     src.AccountID,
		Amount:        money.New(txn.AmountCents, txn.Currency),
		TotalFeeCents: txn.TotalFeeCents,
		Status:        txn.Status,
	})

	s.logger.Info("funding initiated",
		"transaction_id", txn.ID,
		"tenant_id", tenantID,
		"source_id", src.ID,
		"amount_cents", txn.AmountCents,
		"currency", txn.Currency,
		"total_fee_cents", txn.TotalFeeCents,
		"status", txn.Status,
	)

	return txn, nil
}

// UpdateTransactionStatus applies a status move. Terminal statuses are
// write-once: a replayed terminal update merges metadata and returns the
// stored transaction unchanged.
func (s *Service) UpdateTransactionStatus(ctx context.Context, tenantID, txnID string, status TransactionStatus, failureReason string, metadata map[string]string) (*Transaction, error) {
	txn, err := s.getTransaction(ctx, tenantID, txnID)
	if err != nil {
		return nil, err
	}
	return s.applyStatus(ctx, txn, status, failureReason, metadata)
}

func (s *Service) applyStatus(ctx context.Context, txn *Transaction, status TransactionStatus, failureReason string, metadata map[string]string) (*Transaction, error) {
	if txn.IsTerminal() || txn.Status == status {
		if err := s.store.MergeTransactionMetadata(ctx, txn.ID, metadata); err != nil {
			return nil, err
		}
		txn.MergeMetadata(metadata)
		return txn, nil
	}

	if !validStatusMove(txn.Status, status) {
		return nil, validationErrorf("transaction %s cannot move from %s to %s", txn.ID, txn.Status, status)
	}

	now := s.now().UTC()
	from := txn.Status
	txn.Status = status
	txn.FailureReason = failureReason
	txn.MergeMetadata(metadata)

	switch status {
	case TxnProcessing:
		txn.ProcessingAt = &now
	case TxnCompleted:
		txn.CompletedAt = &now
	case TxnFailed:
		txn.FailedAt = &now
	}

	applied, err := s.store.ApplyStatusUpdate(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race against another terminal write; the stored row wins.
		return s.getTransaction(ctx, txn.TenantID, txn.ID)
	}

	// Lifetime totals move exactly once, on the guarded completion write.
	if status == TxnCompleted {
		if err := s.store.IncrementLifetimeTotals(ctx, txn.SourceID, txn.AmountCents); err != nil {
			s.logger.Error("incrementing lifetime totals failed",
				"source_id", txn.SourceID,
				"transaction_id", txn.ID,
				"error", err,
			)
		}
	}

	s.publish(ctx, SubjectTransactionStatus, EventTransactionUpdated, txn.TenantID, TransactionStatusEvent{
		TransactionID: txn.ID,
		SourceID:      txn.SourceID,
		Status:        txn.Status,
		FailureReason: txn.FailureReason,
		Amount:        money.New(txn.AmountCents, txn.Currency),
		CompletedAt:   txn.CompletedAt,
	})

	s.logger.Info("transaction status moved",
		"transaction_id", txn.ID,
		"from", from,
		"to", txn.Status,
	)

	return txn, nil
}

func validStatusMove(from, to TransactionStatus) bool {
	switch from {
	case TxnPending:
		return to == TxnProcessing || IsTerminalStatus(to)
	case TxnProcessing:
		return IsTerminalStatus(to)
	}
	return false
}

// WebhookOutcome reports what a processed webhook resolved to.
type WebhookOutcome struct {
	Processed     bool   `json:"processed"`
	EventType     string `json:"event_type"`
	TransactionID string `json:"transaction_id,omitempty"`
	SourceID      string `json:"source_id,omitempty"`
}

// ProcessWebhook verifies and applies a provider callback. Adapter resolution
// happens before signature verification so an unknown provider path is a
// not-found, not a signature failure. Events that match nothing locally are
// acknowledged so providers stop retrying them.
func (s *Service) ProcessWebhook(ctx context.Context, providerName string, sourceType provider.SourceType, payload []byte, signature string, headers map[string]string) (*WebhookOutcome, error) {
	adapter, err := s.registry.Resolve(providerName, sourceType)
	if err != nil {
		return nil, fmt.Errorf("webhook provider %s/%s: %w", providerName, sourceType, ErrNotFound)
	}

	event, err := adapter.ParseWebhook(payload, signature, headers)
	if err != nil {
		return nil, validationErrorf("webhook verification failed for %s: %v", providerName, err)
	}

	outcome := &WebhookOutcome{Processed: true, EventType: event.EventType}

	if event.ProviderTransactionID != "" && event.TransactionStatus != "" {
		txn, err := s.store.GetTransactionByProviderID(ctx, providerName, event.ProviderTransactionID)
		switch {
		case err == nil:
			updated, err := s.applyStatus(ctx, txn, TransactionStatus(event.TransactionStatus), failureFromMetadata(event.Metadata), event.Metadata)
			switch {
			case err == nil:
				outcome.TransactionID = updated.ID
			case IsValidationError(err):
				// Stale or out-of-order delivery. Acknowledge it so the
				// provider stops retrying an event that can never apply.
				s.logger.Warn("webhook status ignored",
					"provider", providerName,
					"transaction_id", txn.ID,
					"current_status", txn.Status,
					"event_status", event.TransactionStatus,
					"event_type", event.EventType,
				)
				outcome.TransactionID = txn.ID
			default:
				return nil, err
			}
		case database.IsNotFound(err):
			s.logger.Warn("webhook references unknown transaction",
				"provider", providerName,
				"provider_transaction_id", event.ProviderTransactionID,
				"event_type", event.EventType,
			)
		default:
			return nil, err
		}
	}

	if event.ProviderSourceID != "" && event.SourceStatus != "" {
		src, err := s.store.GetSourceByProviderID(ctx, providerName, event.ProviderSourceID)
		switch {
		case err == nil:
			target := SourceStatus(event.SourceStatus)
			if src.CanTransitionTo(target) {
				from := src.Status
				if err := src.TransitionTo(target); err == nil {
					if err := s.store.UpdateSource(ctx, src); err != nil {
						return nil, err
					}
					s.publish(ctx, SubjectSourceStatus, EventSourceStatusMoved, src.TenantID, SourceStatusEvent{
						SourceID: src.ID,
						From:     from,
						To:       target,
					})
				}
			}
			outcome.SourceID = src.ID
		case database.IsNotFound(err):
			s.logger.Warn("webhook references unknown source",
				"provider", providerName,
				"provider_source_id", event.ProviderSourceID,
				"event_type", event.EventType,
			)
		default:
			return nil, err
		}
	}

	return outcome, nil
}

func failureFromMetadata(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	return metadata["failure_reason"]
}

// EstimateFees projects the fee breakdown for an amount without creating a
// transaction.
func (s *Service) EstimateFees(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency, amountCents int64) (*fees.Estimate, error) {
	return s.feeEngine.Estimate(ctx, tenantID, providerName, sourceType, currency, amountCents)
}

// GetQuote returns a forward conversion quote.
func (s *Service) GetQuote(from, to money.Currency, fromAmount int64) (*fx.Quote, error) {
	return s.fxEngine.GetQuote(from, to, fromAmount)
}

// GetReverseQuote returns a quote solving for the source amount.
func (s *Service) GetReverseQuote(from, to money.Currency, toAmount int64) (*fx.Quote, error) {
	return s.fxEngine.GetReverseQuote(from, to, toAmount)
}

// SupportedPairs lists the directly configured conversion pairs.
func (s *Service) SupportedPairs() []fx.Pair {
	return s.fxEngine.SupportedPairs()
}

// ListProviders lists registered provider summaries for discovery.
func (s *Service) ListProviders() []provider.Summary {
	return s.registry.ListProviders()
}

// GetTransaction retrieves one transaction for the tenant.
func (s *Service) GetTransaction(ctx context.Context, tenantID, txnID string) (*Transaction, error) {
	return s.getTransaction(ctx, tenantID, txnID)
}

// ListTransactions lists the tenant's transactions, optionally narrowed to one
// source.
func (s *Service) ListTransactions(ctx context.Context, tenantID, sourceID string, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, tenantID, sourceID, limit)
}

func (s *Service) getSource(ctx context.Context, tenantID, sourceID string) (*Source, error) {
	src, err := s.store.GetSource(ctx, tenantID, sourceID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
		}
		return nil, err
	}
	return src, nil
}

func (s *Service) getTransaction(ctx context.Context, tenantID, txnID string) (*Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, tenantID, txnID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("transaction %s: %w", txnID, ErrNotFound)
		}
		return nil, err
	}
	return txn, nil
}

func (s *Service) resolveAdapter(providerName string, sourceType provider.SourceType, currency money.Currency) (provider.Adapter, error) {
	if providerName != "" {
		adapter, err := s.registry.Resolve(providerName, sourceType)
		if err != nil {
			return nil, fmt.Errorf("provider %s/%s: %w", providerName, sourceType, ErrNotFound)
		}
		return adapter, nil
	}

	adapter, ok := s.registry.FindAny(sourceType, currency)
	if !ok {
		return nil, fmt.Errorf("no provider for %s in %s: %w", sourceType, currency, ErrNotFound)
	}
	return adapter, nil
}

// providerRef builds the adapter-facing view of a source.
func (src *Source) providerRef() *provider.SourceRef {
	return &provider.SourceRef{
		ID:               src.ID,
		TenantID:         src.TenantID,
		AccountID:        src.AccountID,
		SourceType:       src.SourceType,
		ProviderSourceID: src.ProviderSourceID,
		Metadata:         src.ProviderMetadata,
	}
}

func (s *Service) publish(ctx context.Context, subject string, eventType EventType, tenantID string, data any) {
	if s.publisher == nil {
		return
	}

	envelope, err := NewEnvelope(eventType, tenantID, middleware.GetCorrelationID(ctx), data)
	if err != nil {
		s.logger.Error("building event envelope failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, subject, envelope); err != nil {
		s.logger.Warn("publishing event failed", "subject", subject, "type", eventType, "error", err)
	}
}

func supportsCurrency(currencies []money.Currency, currency money.Currency) bool {
	for _, c := range currencies {
		if c == currency {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
