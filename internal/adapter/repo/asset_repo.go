package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
// The derivation graph is a recursive foreign key (parent_id) with
// application-level cascade.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

// CreateOriginal registers an uploaded asset.
func (r *AssetRepositoryPG) CreateOriginal(ctx context.Context, asset *domain.Asset) error {
	if asset.Kind == "" {
		asset.Kind = domain.AssetKindOriginal
	}
	if asset.Kind != domain.AssetKindOriginal {
		return domain.ErrInvalidKind
	}
	if err := asset.ValidateKind(); err != nil {
		return err
	}
	return r.insert(ctx, asset)
}

// CreateDerived registers an asset produced by a pipeline stage.
func (r *AssetRepositoryPG) CreateDerived(ctx context.Context, asset *domain.Asset) error {
	if asset.Kind == domain.AssetKindOriginal {
		return domain.ErrInvalidKind
	}
	if err := asset.ValidateKind(); err != nil {
		return err
	}
	err := r.insert(ctx, asset)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.ErrParentNotFound
	}
	return err
}

func (r *AssetRepositoryPG) insert(ctx context.Context, asset *domain.Asset) error {
	query := `
INSERT INTO assets (id, kind, parent_id, quality, storage_key, bytes, duration_seconds)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
RETURNING created_at;
`
	row := r.pool.QueryRow(ctx, query,
		asset.ID,
		asset.Kind,
		asset.ParentID,
		asset.Quality,
		asset.StorageKey,
		asset.Bytes,
		asset.DurationSeconds,
	)
	return row.Scan(&asset.CreatedAt)
}

// GetByID fetches an asset by its identifier.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	row := r.pool.QueryRow(ctx, selectAssets+` WHERE id = $1;`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return asset, err
}

// ListOriginals returns the roots of the derivation forest, oldest first.
func (r *AssetRepositoryPG) ListOriginals(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.pool.Query(ctx, selectAssets+` WHERE kind = 'ORIGINAL' ORDER BY created_at ASC;`)
	if err != nil {
		return nil, err
	}
	return collectAssets(rows)
}

// ListChildren returns the direct derivations of an asset in creation
// order.
func (r *AssetRepositoryPG) ListChildren(ctx context.Context, id string) ([]domain.Asset, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, selectAssets+` WHERE parent_id = $1 ORDER BY created_at ASC;`, id)
	if err != nil {
		return nil, err
	}
	return collectAssets(rows)
}

// ListVersions returns every direct and transitive derivation of an asset
// in creation order.
func (r *AssetRepositoryPG) ListVersions(ctx context.Context, id string) ([]domain.Asset, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	query := `
WITH RECURSIVE subtree AS (
    SELECT id FROM assets WHERE id = $1
    UNION ALL
    SELECT a.id FROM assets a JOIN subtree s ON a.parent_id = s.id
)
` + selectAssets + `
WHERE id IN (SELECT id FROM subtree) AND id <> $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	return collectAssets(rows)
}

// DeleteSubtree removes the asset and every descendant in one
// transaction, together with terminal jobs referencing them. It fails
// without deleting anything when an active job references any member.
func (r *AssetRepositoryPG) DeleteSubtree(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1);`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}

	subtreeCTE := `
WITH RECURSIVE subtree AS (
    SELECT id FROM assets WHERE id = $1
    UNION ALL
    SELECT a.id FROM assets a JOIN subtree s ON a.parent_id = s.id
)
`
	var active bool
	err = tx.QueryRow(ctx, subtreeCTE+`
SELECT EXISTS (
    SELECT 1 FROM jobs
    WHERE asset_id IN (SELECT id FROM subtree)
      AND status NOT IN ('SUCCESS', 'FAILED')
);
`, id).Scan(&active)
	if err != nil {
		return err
	}
	if active {
		return domain.ErrHasActiveJobs
	}

	if _, err := tx.Exec(ctx, subtreeCTE+`DELETE FROM jobs WHERE asset_id IN (SELECT id FROM subtree);`, id); err != nil {
		return fmt.Errorf("delete referencing jobs: %w", err)
	}
	if _, err := tx.Exec(ctx, subtreeCTE+`DELETE FROM assets WHERE id IN (SELECT id FROM subtree);`, id); err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	return tx.Commit(ctx)
}

const selectAssets = `
SELECT id, kind, COALESCE(parent_id, ''), COALESCE(quality, ''), storage_key, bytes, duration_seconds, created_at
FROM assets`

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var asset domain.Asset
	if err := row.Scan(
		&asset.ID,
		&asset.Kind,
		&asset.ParentID,
		&asset.Quality,
		&asset.StorageKey,
		&asset.Bytes,
		&asset.DurationSeconds,
		&asset.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &asset, nil
}

func collectAssets(rows pgx.Rows) ([]domain.Asset, error) {
	defer rows.Close()
	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
