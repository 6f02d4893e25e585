package orders

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

// PGQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type PGQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGSideStore keeps side tables in PostgreSQL, one row per quote, with
// optimistic concurrency on the version column.
type PGSideStore struct {
	db PGQuerier
}

// NewPGSideStore constructs the store.
func NewPGSideStore(db PGQuerier) *PGSideStore {
	return &PGSideStore{db: db}
}

// EnsureSchema creates the side table when missing.
func (s *PGSideStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("orders: side store schema: %w", err)
	}
	return nil
}

// Load returns the stored tables, or empty tables at version 0.
func (s *PGSideStore) Load(ctx context.Context, quoteID int64) (SideData, error) {
	var (
		data                                          SideData
		packaging, verification, returns, additional []byte
	)
	err := s.db.QueryRow(ctx, `SELECT version, packaging, verification, returns, additional
FROM order_side_data WHERE quote_id = $1`, quoteID).Scan(&data.Version, &packaging, &verification, &returns, &additional)
	if errors.Is(err, pgx.ErrNoRows) {
		return emptySide(), nil
	}
	if err != nil {
		return SideData{}, fmt.Errorf("orders: load side data: %w", err)
	}
	if err := decodeColumns(&data, packaging, verification, returns, additional); err != nil {
		return SideData{}, fmt.Errorf("orders: decode side data: %w", err)
	}
	return data, nil
}

// Save writes the tables when the stored version still equals data.Version.
func (s *PGSideStore) Save(ctx context.Context, quoteID int64, data SideData) error {
	cols, err := encodeColumns(data)
	if err != nil {
		return fmt.Errorf("orders: encode side data: %w", err)
	}
	var tag pgconn.CommandTag
	if data.Version == 0 {
		tag, err = s.db.Exec(ctx, `INSERT INTO order_side_data (quote_id, version, packaging, verification, returns, additional, updated_at)
VALUES ($1, 1, $2, $3, $4, $5, now())
ON CONFLICT (quote_id) DO NOTHING`, quoteID, cols[0], cols[1], cols[2], cols[3])
	} else {
		tag, err = s.db.Exec(ctx, `UPDATE order_side_data
SET version = version + 1, packaging = $3, verification = $4, returns = $5, additional = $6, updated_at = now()
WHERE quote_id = $1 AND version = $2`, quoteID, data.Version, cols[0], cols[1], cols[2], cols[3])
	}
	if err != nil {
		return fmt.Errorf("orders: save side data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func emptySide() SideData {
	return SideData{
		Packaging:    map[int64]PackagingDataItem{},
		Verification: map[int64]VerificationDataItem{},
		Returns:      map[int64]ReturnDataItem{},
		Additional:   map[int64]AdditionalDataItem{},
	}
}

func encodeColumns(data SideData) ([4][]byte, error) {
	var cols [4][]byte
	for i, table := range []any{data.Packaging, data.Verification, data.Returns, data.Additional} {
		raw, err := json.Marshal(table)
		if err != nil {
			return cols, err
		}
		if string(raw) == "null" {
			raw = []byte("{}")
		}
		cols[i] = raw
	}
	return cols, nil
}

func decodeColumns(data *SideData, packaging, verification, returns, additional []byte) error {
	empty := emptySide()
	data.Packaging, data.Verification, data.Returns, data.Additional = empty.Packaging, empty.Verification, empty.Returns, empty.Additional
	for _, col := range []struct {
		raw  []byte
		dest any
	}{
		{packaging, &data.Packaging},
		{verification, &data.Verification},
		{returns, &data.Returns},
		{additional, &data.Additional},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return err
		}
	}
	return nil
}
