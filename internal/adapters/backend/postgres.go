package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/reporting"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type PostgresStore struct {
	db     *sqlx.DB
	schema string

	tracer trace.Tracer
}

var _ AssetStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sqlx.DB, schema string) *PostgresStore {
	return &PostgresStore{
		db:     db,
		schema: schema,

		tracer: otel.Tracer("stockpile/adapters/backend/postgres"),
	}
}

type dbAsset struct {
	Address     string         `db:"address"`
	Reference   sql.NullString `db:"reference"`
	Labels      pq.StringArray `db:"labels"`
	ContentType string         `db:"content_type"`
	Data        []byte         `db:"data"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (p *PostgresStore) beginTx(ctx context.Context, readOnly bool) (*sqlx.Tx, error) {
	txx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		err := fmt.Errorf("failed to start transaction: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		_ = txx.Rollback()
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"schema": p.schema,
		})
		return nil, err
	}

	return txx, nil
}

func (p *PostgresStore) GetAsset(ctx context.Context, key domain.Key) (domain.Asset, error) {
	ctx, span := p.tracer.Start(ctx, "PostgresStore.GetAsset")
	defer span.End()

	var query string
	switch key.Kind() {
	case domain.KeyKindAddress:
		query = "SELECT address, reference, labels, content_type, data, updated_at FROM assets WHERE address = $1"
	case domain.KeyKindLabel:
		query = "SELECT address, reference, labels, content_type, data, updated_at FROM assets WHERE $1 = ANY(labels) ORDER BY address LIMIT 1"
	case domain.KeyKindReference:
		query = "SELECT address, reference, labels, content_type, data, updated_at FROM assets WHERE reference = $1"
	default:
		return domain.Asset{}, fmt.Errorf("%w: %s", domain.ErrInvalidKey, key)
	}

	txx, err := p.beginTx(ctx, true)
	if err != nil {
		return domain.Asset{}, err
	}
	defer txx.Rollback()

	var entry dbAsset
	err = txx.GetContext(ctx, &entry, query, key.Value())
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Asset{}, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, key)
	} else if err != nil {
		err := fmt.Errorf("failed to query asset: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key": key.String(),
		})
		return domain.Asset{}, err
	}

	return domain.Asset{
		Key:         key,
		Address:     entry.Address,
		ContentType: entry.ContentType,
		Data:        entry.Data,
	}, nil
}

func (p *PostgresStore) PutAsset(ctx context.Context, asset StoredAsset) error {
	ctx, span := p.tracer.Start(ctx, "PostgresStore.PutAsset")
	defer span.End()

	asset, err := validateStoredAsset(asset)
	if err != nil {
		return err
	}

	reference := sql.NullString{String: asset.Reference, Valid: asset.Reference != ""}

	txx, err := p.beginTx(ctx, false)
	if err != nil {
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO assets (address, reference, labels, content_type, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (address) DO UPDATE SET
			reference = EXCLUDED.reference,
			labels = EXCLUDED.labels,
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		asset.Address,
		reference,
		pq.Array(asset.Labels),
		asset.ContentType,
		asset.Data,
	)
	if err != nil {
		err := fmt.Errorf("failed to store asset: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"address": asset.Address,
		})
		return err
	}

	if err := txx.Commit(); err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	return nil
}
