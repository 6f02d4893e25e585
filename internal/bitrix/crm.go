package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxListPages bounds list pagination (50 records per page).
const maxListPages = 40

// GetDeal calls crm.deal.get.
func (c *Client) GetDeal(ctx context.Context, id int64) (Entity, error) {
	var deal Entity
	if err := c.Call(ctx, "crm.deal.get", map[string]any{"id": id}, &deal); err != nil {
		return nil, err
	}
	return deal, nil
}

// UpdateDeal calls crm.deal.update with the given fields.
func (c *Client) UpdateDeal(ctx context.Context, id int64, fields map[string]any) error {
	return c.Call(ctx, "crm.deal.update", map[string]any{"id": id, "fields": fields}, nil)
}

// AddDeal calls crm.deal.add and returns the new deal id.
func (c *Client) AddDeal(ctx context.Context, fields map[string]any) (int64, error) {
	var id Int
	if err := c.Call(ctx, "crm.deal.add", map[string]any{"fields": fields}, &id); err != nil {
		return 0, err
	}
	return int64(id), nil
}

// GetQuote calls crm.quote.get.
func (c *Client) GetQuote(ctx context.Context, id int64) (Entity, error) {
	var quote Entity
	if err := c.Call(ctx, "crm.quote.get", map[string]any{"id": id}, &quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// UpdateQuote calls crm.quote.update with the given fields.
func (c *Client) UpdateQuote(ctx context.Context, id int64, fields map[string]any) error {
	return c.Call(ctx, "crm.quote.update", map[string]any{"id": id, "fields": fields}, nil)
}

// AddQuote calls crm.quote.add and returns the new quote id.
func (c *Client) AddQuote(ctx context.Context, fields map[string]any) (int64, error) {
	var id Int
	if err := c.Call(ctx, "crm.quote.add", map[string]any{"fields": fields}, &id); err != nil {
		return 0, err
	}
	return int64(id), nil
}

// DeleteQuote calls crm.quote.delete.
func (c *Client) DeleteQuote(ctx context.Context, id int64) error {
	return c.Call(ctx, "crm.quote.delete", map[string]any{"id": id}, nil)
}

// QuoteFields calls crm.quote.fields.
func (c *Client) QuoteFields(ctx context.Context) (map[string]FieldDescription, error) {
	var fields map[string]FieldDescription
	if err := c.Call(ctx, "crm.quote.fields", nil, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// GetQuoteProductRows calls crm.quote.productrows.get.
func (c *Client) GetQuoteProductRows(ctx context.Context, quoteID int64) ([]ProductRow, error) {
	var rows []ProductRow
	if err := c.Call(ctx, "crm.quote.productrows.get", map[string]any{"id": quoteID}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetQuoteProductRows replaces every product row of a quote.
func (c *Client) SetQuoteProductRows(ctx context.Context, quoteID int64, rows []ProductRow) error {
	if rows == nil {
		rows = []ProductRow{}
	}
	return c.Call(ctx, "crm.quote.productrows.set", map[string]any{"id": quoteID, "rows": rows}, nil)
}

// GetCompany calls crm.company.get.
func (c *Client) GetCompany(ctx context.Context, id int64) (Entity, error) {
	var company Entity
	if err := c.Call(ctx, "crm.company.get", map[string]any{"id": id}, &company); err != nil {
		return nil, err
	}
	return company, nil
}

// GetContact calls crm.contact.get.
func (c *Client) GetContact(ctx context.Context, id int64) (Entity, error) {
	var contact Entity
	if err := c.Call(ctx, "crm.contact.get", map[string]any{"id": id}, &contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// ListItems calls crm.item.list and follows pagination.
func (c *Client) ListItems(ctx context.Context, entityTypeID int, filter map[string]any, fields []string) ([]Entity, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	var all []Entity
	start := 0
	for page := 0; page < maxListPages; page++ {
		params := map[string]any{
			"entityTypeId": entityTypeID,
			"filter":       filter,
			"start":        start,
		}
		if len(fields) > 0 {
			params["select"] = fields
		}
		var result struct {
			Items []Entity `json:"items"`
		}
		env, err := c.call(ctx, "crm.item.list", params, &result)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Items...)
		if env.Next == nil {
			return all, nil
		}
		start = *env.Next
	}
	return all, fmt.Errorf("bitrix: crm.item.list: more than %d pages", maxListPages)
}

// ListAddresses calls crm.address.list.
func (c *Client) ListAddresses(ctx context.Context, filter map[string]any) ([]Address, error) {
	var addresses []Address
	if err := c.Call(ctx, "crm.address.list", map[string]any{"filter": filter}, &addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

// ListMeasures calls crm.measure.list.
func (c *Client) ListMeasures(ctx context.Context) ([]Measure, error) {
	var measures []Measure
	if err := c.Call(ctx, "crm.measure.list", nil, &measures); err != nil {
		return nil, err
	}
	return measures, nil
}

// AddMeasure calls crm.measure.add and returns the new measure id.
func (c *Client) AddMeasure(ctx context.Context, m Measure) (int64, error) {
	var id Int
	if err := c.Call(ctx, "crm.measure.add", map[string]any{"fields": m}, &id); err != nil {
		return 0, err
	}
	return int64(id), nil
}

// CurrentUser calls user.current. Custom user fields end up in User.Fields.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, "user.current", nil, &raw); err != nil {
		return User{}, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, fmt.Errorf("bitrix: user.current: decode: %w", err)
	}
	if err := json.Unmarshal(raw, &user.Fields); err != nil {
		return User{}, fmt.Errorf("bitrix: user.current: decode fields: %w", err)
	}
	return user, nil
}
