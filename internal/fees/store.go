package fees

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fundcore/internal/common/money"
	"fundcore/internal/provider"
)

// PostgresStore implements ConfigStore using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL fee config store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindActive returns active fee configs for the scope, tenant-scoped rows
// first. NULLS LAST on tenant_id makes the global row sort after the
// tenant override.
func (s *PostgresStore) FindActive(ctx context.Context, tenantID, providerName string, sourceType provider.SourceType, currency money.Currency) ([]*Config, error) {
	query := `
		SELECT id, tenant_id, provider, source_type, currency,
			   percentage_fee, fixed_fee_cents, min_fee_cents, max_fee_cents,
			   platform_percentage_fee, platform_fixed_fee_cents,
			   fee_waiver_active, fee_waiver_expires_at, active,
			   created_at, updated_at
		FROM funding_fee_configs
		WHERE provider = $1 AND source_type = $2 AND currency = $3
		  AND active = true
		  AND (tenant_id = $4 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
	`

	rows, err := s.pool.Query(ctx, query, providerName, sourceType, currency, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying fee configs: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		var c Config
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.Provider, &c.SourceType, &c.Currency,
			&c.PercentageFee, &c.FixedFeeCents, &c.MinFeeCents, &c.MaxFeeCents,
			&c.PlatformPercentageFee, &c.PlatformFixedFeeCents,
			&c.WaiverActive, &c.WaiverExpiresAt, &c.Active,
			&c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning fee config: %w", err)
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}
