package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ErrVersionConflict is returned when side data changed since it was loaded.
var ErrVersionConflict = fmt.Errorf("orders: side data modified concurrently: %w", httpx.ErrConflict)

// SideStore persists side tables per quote.
type SideStore interface {
	Load(ctx context.Context, quoteID int64) (SideData, error)
	Save(ctx context.Context, quoteID int64, data SideData) error
}

// FieldSet names the quote custom fields that hold each side table.
type FieldSet struct {
	Packaging    string
	Verification string
	Returns      string
	Additional   string
}

// QuoteStore is the part of the CRM client CRMSideStore needs.
type QuoteStore interface {
	GetQuote(ctx context.Context, id int64) (bitrix.Entity, error)
	UpdateQuote(ctx context.Context, id int64, fields map[string]any) error
}

// CRMSideStore keeps side tables as JSON text in quote custom fields.
// Each blob is {"version": n, "items": {...}}; bare maps written by older
// versions of the widget are read as version 0.
type CRMSideStore struct {
	crm    QuoteStore
	fields FieldSet
	logger *slog.Logger
}

// NewCRMSideStore constructs the store.
func NewCRMSideStore(crm QuoteStore, fields FieldSet, logger *slog.Logger) *CRMSideStore {
	return &CRMSideStore{crm: crm, fields: fields, logger: logger}
}

type blob struct {
	Version int64           `json:"version"`
	Items   json.RawMessage `json:"items"`
}

// Load reads the side tables of a quote.
func (s *CRMSideStore) Load(ctx context.Context, quoteID int64) (SideData, error) {
	quote, err := s.crm.GetQuote(ctx, quoteID)
	if err != nil {
		return SideData{}, err
	}
	return s.FromQuote(quote), nil
}

// FromQuote decodes the side tables from an already fetched quote. Missing or
// malformed fields decode as empty tables.
func (s *CRMSideStore) FromQuote(quote bitrix.Entity) SideData {
	var data SideData
	var v int64
	data.Packaging, v = decodeTable[PackagingDataItem](s.logger, quote, s.fields.Packaging)
	data.Version = max(data.Version, v)
	data.Verification, v = decodeTable[VerificationDataItem](s.logger, quote, s.fields.Verification)
	data.Version = max(data.Version, v)
	data.Returns, v = decodeTable[ReturnDataItem](s.logger, quote, s.fields.Returns)
	data.Version = max(data.Version, v)
	data.Additional, v = decodeTable[AdditionalDataItem](s.logger, quote, s.fields.Additional)
	data.Version = max(data.Version, v)
	return data
}

// Save writes the side tables, rejecting the write when the stored version
// moved past data.Version. The CRM offers no conditional update, so a
// concurrent write between the check and the update still wins.
func (s *CRMSideStore) Save(ctx context.Context, quoteID int64, data SideData) error {
	current, err := s.Load(ctx, quoteID)
	if err != nil {
		return err
	}
	if current.Version > data.Version {
		return ErrVersionConflict
	}
	next := data.Version + 1
	fields := map[string]any{}
	for field, table := range map[string]any{
		s.fields.Packaging:    data.Packaging,
		s.fields.Verification: data.Verification,
		s.fields.Returns:      data.Returns,
		s.fields.Additional:   data.Additional,
	} {
		if field == "" {
			continue
		}
		encoded, err := encodeTable(next, table)
		if err != nil {
			return fmt.Errorf("orders: encode %s: %w", field, err)
		}
		fields[field] = encoded
	}
	if len(fields) == 0 {
		return nil
	}
	return s.crm.UpdateQuote(ctx, quoteID, fields)
}

func encodeTable(version int64, table any) (string, error) {
	items, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	if bytes.Equal(items, []byte("null")) {
		items = []byte("{}")
	}
	raw, err := json.Marshal(blob{Version: version, Items: items})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeTable[T any](logger *slog.Logger, quote bitrix.Entity, field string) (map[int64]T, int64) {
	out := map[int64]T{}
	if field == "" {
		return out, 0
	}
	raw := quote.String(field)
	if raw == "" {
		return out, 0
	}
	table, version, err := decodeBlob[T]([]byte(raw))
	if err != nil {
		if logger != nil {
			logger.Warn("malformed side data, treating as empty",
				slog.Int64("quote_id", quote.ID()),
				slog.String("field", field),
				slog.Any("error", err))
		}
		return out, 0
	}
	return table, version
}

func decodeBlob[T any](raw []byte) (map[int64]T, int64, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, 0, err
	}
	var version int64
	payload := raw
	if items, ok := envelope["items"]; ok {
		var b blob
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, 0, err
		}
		version = b.Version
		payload = items
	}
	var byKey map[string]T
	if err := json.Unmarshal(payload, &byKey); err != nil {
		return nil, 0, err
	}
	out := make(map[int64]T, len(byKey))
	for key, entry := range byKey {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("item key %q: %w", key, err)
		}
		out[id] = entry
	}
	return out, version, nil
}
