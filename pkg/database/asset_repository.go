package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/finql/pkg/models"
)

// AssetRepository stores the instruments tickers belong to.
type AssetRepository interface {
	InsertAsset(ctx context.Context, asset *models.Asset) error
	GetAssetByID(ctx context.Context, id int64) (*models.Asset, error)
	GetAssetByName(ctx context.Context, name string) (*models.Asset, error)
	DeleteAsset(ctx context.Context, id int64) error
}

type assetRepository struct {
	db *DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *DB) AssetRepository {
	return &assetRepository{db: db}
}

func scanAsset(s scanner) (*models.Asset, error) {
	var (
		a               models.Asset
		id              int64
		wkn, isin, note sql.NullString
	)
	if err := s.Scan(&id, &a.Name, &wkn, &isin, &note); err != nil {
		return nil, err
	}
	a.WKN = fromNullString(wkn)
	a.ISIN = fromNullString(isin)
	a.Note = fromNullString(note)
	a.ID = models.Assigned(id)
	return &a, nil
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// InsertAsset stores a new asset and assigns its id.
func (r *assetRepository) InsertAsset(ctx context.Context, asset *models.Asset) (err error) {
	start := time.Now()
	defer func() { observe("insert_asset", start, err) }()

	if id, err := asset.GetID(); err == nil {
		return fmt.Errorf("insert asset: %w: already stored with id %d", models.ErrDataAccessFailure, id)
	}

	asset.Sanitize()
	if err := asset.Validate(); err != nil {
		return fmt.Errorf("asset validation failed: %w", err)
	}

	query := `INSERT INTO assets (name, wkn, isin, note) VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		asset.Name, toNullString(asset.WKN), toNullString(asset.ISIN), toNullString(asset.Note),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return asset.SetID(id)
}

func (r *assetRepository) GetAssetByID(ctx context.Context, id int64) (asset *models.Asset, err error) {
	start := time.Now()
	defer func() { observe("get_asset", start, err) }()

	row := r.db.QueryRowContext(ctx, `SELECT id, name, wkn, isin, note FROM assets WHERE id = $1`, id)
	asset, err = scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

func (r *assetRepository) GetAssetByName(ctx context.Context, name string) (asset *models.Asset, err error) {
	start := time.Now()
	defer func() { observe("get_asset_by_name", start, err) }()

	row := r.db.QueryRowContext(ctx, `SELECT id, name, wkn, isin, note FROM assets WHERE name = $1`, name)
	asset, err = scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset by name: %w", err)
	}
	return asset, nil
}

// DeleteAsset removes an asset. Tickers still referencing it make the delete fail.
func (r *assetRepository) DeleteAsset(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { observe("delete_asset", start, err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return expectAffected(res, "asset", id)
}
