package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fundcore/internal/common/database"
	"fundcore/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// AccountExists checks account ownership for the tenant.
func (s *PostgresStore) AccountExists(ctx context.Context, tenantID, accountID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1 AND tenant_id = $2)`,
		accountID, tenantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking account: %w", err)
	}
	return exists, nil
}

const sourceColumns = `
	id, tenant_id, account_id, provider, source_type, status, verified_at,
	display_name, last_four, brand, provider_source_id, provider_metadata,
	currencies, per_transaction_limit_cents, daily_limit_cents, monthly_limit_cents,
	daily_used_cents, monthly_used_cents, daily_reset_at, monthly_reset_at,
	last_used_at, total_funded_cents, total_transactions, removed_at,
	created_at, updated_at`

// CreateSource inserts a new funding source.
func (s *PostgresStore) CreateSource(ctx context.Context, src *Source) error {
	query := `
		INSERT INTO funding_sources (` + sourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	metadata, _ := json.Marshal(src.ProviderMetadata)

	_, err := s.pool.Exec(ctx, query,
		src.ID, src.TenantID, src.AccountID, src.Provider, src.SourceType, src.Status, src.VerifiedAt,
		nullStr(src.DisplayName), nullStr(src.LastFour), nullStr(src.Brand),
		nullStr(src.ProviderSourceID), metadata,
		currencyStrings(src.Currencies),
		src.PerTransactionLimitCents, src.DailyLimitCents, src.MonthlyLimitCents,
		src.DailyUsedCents, src.MonthlyUsedCents, src.DailyResetAt, src.MonthlyResetAt,
		src.LastUsedAt, src.TotalFundedCents, src.TotalTransactions, src.RemovedAt,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

// GetSource retrieves a funding source scoped to a tenant.
func (s *PostgresStore) GetSource(ctx context.Context, tenantID, sourceID string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM funding_sources WHERE id = $1 AND tenant_id = $2`
	return scanSource(s.pool.QueryRow(ctx, query, sourceID, tenantID))
}

// GetSourceByProviderID retrieves a source by the provider-side identifier.
func (s *PostgresStore) GetSourceByProviderID(ctx context.Context, providerName, providerSourceID string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM funding_sources WHERE provider = $1 AND provider_source_id = $2`
	return scanSource(s.pool.QueryRow(ctx, query, providerName, providerSourceID))
}

// ListSources lists a tenant's sources, newest first. accountID narrows the
// listing when non-empty.
func (s *PostgresStore) ListSources(ctx context.Context, tenantID, accountID string) ([]*Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM funding_sources
		WHERE tenant_id = $1 AND ($2 = '' OR account_id = $2)
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpdateSource updates mutable source fields.
func (s *PostgresStore) UpdateSource(ctx context.Context, src *Source) error {
	query := `
		UPDATE funding_sources SET
			status = $2, verified_at = $3, display_name = $4, last_four = $5, brand = $6,
			provider_source_id = $7, provider_metadata = $8, currencies = $9,
			per_transaction_limit_cents = $10, daily_limit_cents = $11, monthly_limit_cents = $12,
			removed_at = $13, updated_at = $14
		WHERE id = $1
	`

	metadata, _ := json.Marshal(src.ProviderMetadata)
	src.UpdatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, query,
		src.ID, src.Status, src.VerifiedAt,
		nullStr(src.DisplayName), nullStr(src.LastFour), nullStr(src.Brand),
		nullStr(src.ProviderSourceID), metadata, currencyStrings(src.Currencies),
		src.PerTransactionLimitCents, src.DailyLimitCents, src.MonthlyLimitCents,
		src.RemovedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	return nil
}

// IncrementUsage atomically bumps the daily/monthly usage counters and the
// last-used timestamp. The store-side increment avoids lost updates under
// concurrent funding against one source.
func (s *PostgresStore) IncrementUsage(ctx context.Context, sourceID string, amountCents int64, usedAt time.Time) error {
	query := `
		UPDATE funding_sources SET
			daily_used_cents = daily_used_cents + $2,
			monthly_used_cents = monthly_used_cents + $2,
			last_used_at = $3,
			updated_at = $3
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, sourceID, amountCents, usedAt)
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	return nil
}

// IncrementLifetimeTotals atomically bumps the lifetime funded amount and
// transaction count.
func (s *PostgresStore) IncrementLifetimeTotals(ctx context.Context, sourceID string, amountCents int64) error {
	query := `
		UPDATE funding_sources SET
			total_funded_cents = total_funded_cents + $2,
			total_transactions = total_transactions + 1,
			updated_at = now()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, sourceID, amountCents)
	if err != nil {
		return fmt.Errorf("incrementing lifetime totals: %w", err)
	}
	return nil
}

const transactionColumns = `
	id, tenant_id, account_id, source_id, provider, source_type,
	amount_cents, currency, converted_amount_cents, conversion_rate, target_currency,
	status, failure_reason, provider_transaction_id, provider_metadata,
	provider_fee_cents, platform_fee_cents, conversion_fee_cents, total_fee_cents,
	idempotency_key, initiated_at, processing_at, completed_at, failed_at,
	created_at, updated_at`

// CreateTransaction inserts a new funding transaction. The unique index on
// (tenant_id, idempotency_key) makes a losing concurrent insert fail with a
// unique violation; callers resolve that by re-reading the winning row.
func (s *PostgresStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO funding_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	metadata, _ := json.Marshal(t.ProviderMetadata)

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.TenantID, t.AccountID, t.SourceID, t.Provider, t.SourceType,
		t.AmountCents, t.Currency, t.ConvertedAmountCents, t.ConversionRate, nullStr(string(t.TargetCurrency)),
		t.Status, nullStr(t.FailureReason), nullStr(t.ProviderTransactionID), metadata,
		t.ProviderFeeCents, t.PlatformFeeCents, t.ConversionFeeCents, t.TotalFeeCents,
		t.IdempotencyKey, t.InitiatedAt, t.ProcessingAt, t.CompletedAt, t.FailedAt,
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction scoped to a tenant.
func (s *PostgresStore) GetTransaction(ctx context.Context, tenantID, txnID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM funding_transactions WHERE id = $1 AND tenant_id = $2`
	return scanTransaction(s.pool.QueryRow(ctx, query, txnID, tenantID))
}

// GetTransactionByIdempotencyKey retrieves a transaction by its idempotency
// key within a tenant.
func (s *PostgresStore) GetTransactionByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM funding_transactions WHERE tenant_id = $1 AND idempotency_key = $2`
	return scanTransaction(s.pool.QueryRow(ctx, query, tenantID, key))
}

// GetTransactionByProviderID retrieves a transaction by the provider-side
// transaction identifier.
func (s *PostgresStore) GetTransactionByProviderID(ctx context.Context, providerName, providerTxnID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM funding_transactions WHERE provider = $1 AND provider_transaction_id = $2`
	return scanTransaction(s.pool.QueryRow(ctx, query, providerName, providerTxnID))
}

// ListTransactions lists a tenant's transactions, newest first. sourceID
// narrows the listing when non-empty.
func (s *PostgresStore) ListTransactions(ctx context.Context, tenantID, sourceID string, limit int) ([]*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM funding_transactions
		WHERE tenant_id = $1 AND ($2 = '' OR source_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, tenantID, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ApplyStatusUpdate writes a status move guarded on the current status still
// being non-terminal, making terminal transitions write-once. It reports
// whether the guard held and the row was updated.
func (s *PostgresStore) ApplyStatusUpdate(ctx context.Context, t *Transaction) (bool, error) {
	query := `
		UPDATE funding_transactions SET
			status = $2, failure_reason = $3, provider_metadata = $4,
			converted_amount_cents = $5, conversion_rate = $6,
			processing_at = $7, completed_at = $8, failed_at = $9,
			updated_at = $10
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled', 'refunded')
	`

	metadata, _ := json.Marshal(t.ProviderMetadata)
	t.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.Status, nullStr(t.FailureReason), metadata,
		t.ConvertedAmountCents, t.ConversionRate,
		t.ProcessingAt, t.CompletedAt, t.FailedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("updating transaction status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MergeTransactionMetadata folds metadata into a terminal transaction
// without touching its immutable fields.
func (s *PostgresStore) MergeTransactionMetadata(ctx context.Context, txnID string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	patch, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		UPDATE funding_transactions SET
			provider_metadata = COALESCE(provider_metadata, '{}'::jsonb) || $2::jsonb,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, txnID, patch); err != nil {
		return fmt.Errorf("merging transaction metadata: %w", err)
	}
	return nil
}

func scanSource(row pgx.Row) (*Source, error) {
	var src Source
	var displayName, lastFour, brand, providerSourceID *string
	var metadata []byte
	var currencies []string

	err := row.Scan(
		&src.ID, &src.TenantID, &src.AccountID, &src.Provider, &src.SourceType, &src.Status, &src.VerifiedAt,
		&displayName, &lastFour, &brand, &providerSourceID, &metadata,
		&currencies, &src.PerTransactionLimitCents, &src.DailyLimitCents, &src.MonthlyLimitCents,
		&src.DailyUsedCents, &src.MonthlyUsedCents, &src.DailyResetAt, &src.MonthlyResetAt,
		&src.LastUsedAt, &src.TotalFundedCents, &src.TotalTransactions, &src.RemovedAt,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("funding source: %w", database.ErrNotFound)
		}
		return nil, err
	}

	src.DisplayName = deref(displayName)
	src.LastFour = deref(lastFour)
	src.Brand = deref(brand)
	src.ProviderSourceID = deref(providerSourceID)

	for _, c := range currencies {
		src.Currencies = append(src.Currencies, money.Currency(c))
	}
	_ = json.Unmarshal(metadata, &src.ProviderMetadata)

	return &src, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var failureReason, providerTxnID, targetCurrency *string
	var metadata []byte

	err := row.Scan(
		&t.ID, &t.TenantID, &t.AccountID, &t.SourceID, &t.Provider, &t.SourceType,
		&t.AmountCents, &t.Currency, &t.ConvertedAmountCents, &t.ConversionRate, &targetCurrency,
		&t.Status, &failureReason, &providerTxnID, &metadata,
		&t.ProviderFeeCents, &t.PlatformFeeCents, &t.ConversionFeeCents, &t.TotalFeeCents,
		&t.IdempotencyKey, &t.InitiatedAt, &t.ProcessingAt, &t.CompletedAt, &t.FailedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("funding transaction: %w", database.ErrNotFound)
		}
		return nil, err
	}

	t.FailureReason = deref(failureReason)
	t.ProviderTransactionID = deref(providerTxnID)
	if targetCurrency != nil {
		t.TargetCurrency = money.Currency(*targetCurrency)
	}
	_ = json.Unmarshal(metadata, &t.ProviderMetadata)

	return &t, nil
}

func currencyStrings(currencies []money.Currency) []string {
	out := make([]string, len(currencies))
	for i, c := range currencies {
		out[i] = string(c)
	}
	return out
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
