package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain"
)

// OverlayRepositoryPG persists compositing configs using PostgreSQL.
type OverlayRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewOverlayRepository constructs a new overlay repository instance.
func NewOverlayRepository(pool *pgxpool.Pool) *OverlayRepositoryPG {
	return &OverlayRepositoryPG{pool: pool}
}

// SaveAll persists the configs as audit records for the asset.
func (r *OverlayRepositoryPG) SaveAll(ctx context.Context, assetID string, configs []domain.OverlayConfig) error {
	if len(configs) == 0 {
		return nil
	}
	query := `
INSERT INTO overlays (id, asset_id, kind, params)
VALUES ($1, $2, $3, $4);
`
	for _, cfg := range configs {
		params, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode overlay params: %w", err)
		}
		if _, err := r.pool.Exec(ctx, query, uuid.NewString(), assetID, cfg.Kind, params); err != nil {
			return err
		}
	}
	return nil
}

// ListByAssetID returns the audit records for an asset in creation order.
func (r *OverlayRepositoryPG) ListByAssetID(ctx context.Context, assetID string) ([]domain.OverlayRecord, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, asset_id, params, created_at
FROM overlays
WHERE asset_id = $1
ORDER BY created_at ASC;
`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.OverlayRecord
	for rows.Next() {
		var (
			record domain.OverlayRecord
			params []byte
		)
		if err := rows.Scan(&record.ID, &record.AssetID, &params, &record.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(params, &record.Config); err != nil {
			return nil, fmt.Errorf("decode overlay params: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
