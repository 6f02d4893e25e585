package bitrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Int is an integer Bitrix24 may send as a JSON number or a numeric string.
type Int int64

// UnmarshalJSON accepts 12, "12", "" and null.
func (i *Int) UnmarshalJSON(data []byte) error {
	s, err := unquoteNumber(data)
	if err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("bitrix: invalid integer %q", s)
	}
	*i = Int(v)
	return nil
}

// Number is a float Bitrix24 may send as a JSON number or a numeric string.
type Number float64

// UnmarshalJSON accepts 1.5, "1.5", "1,5", "" and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	s, err := unquoteNumber(data)
	if err != nil {
		return err
	}
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return fmt.Errorf("bitrix: invalid number %q", s)
	}
	*n = Number(v)
	return nil
}

func unquoteNumber(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	return string(data), nil
}

// Entity is a CRM record with arbitrary, partly custom (UF_*), fields.
type Entity map[string]any

// ID returns the record identifier or zero.
func (e Entity) ID() int64 {
	return e.Int("ID")
}

// String returns a field rendered as a string; absent and null fields are "".
func (e Entity) String(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// Int returns a numeric field, parsing numeric strings.
func (e Entity) Int(key string) int64 {
	s := e.String(key)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(v)
}

// Clone copies the record without its identity and bookkeeping fields, ready for *.add.
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		switch k {
		case "ID", "DATE_CREATE", "DATE_MODIFY", "CREATED_BY_ID", "MODIFY_BY_ID", "QUOTE_NUMBER":
			continue
		}
		out[k] = v
	}
	return out
}

// ProductRow is a product line of a quote or deal.
type ProductRow struct {
	ID             Int     `json:"ID,omitempty"`
	OwnerID        Int     `json:"OWNER_ID,omitempty"`
	OwnerType      string  `json:"OWNER_TYPE,omitempty"`
	ProductID      Int     `json:"PRODUCT_ID"`
	ProductName    string  `json:"PRODUCT_NAME"`
	Price          Number  `json:"PRICE"`
	PriceExclusive Number  `json:"PRICE_EXCLUSIVE,omitempty"`
	PriceNetto     Number  `json:"PRICE_NETTO,omitempty"`
	PriceBrutto    Number  `json:"PRICE_BRUTTO,omitempty"`
	Quantity       Number  `json:"QUANTITY"`
	DiscountTypeID Int     `json:"DISCOUNT_TYPE_ID,omitempty"`
	DiscountRate   Number  `json:"DISCOUNT_RATE,omitempty"`
	DiscountSum    Number  `json:"DISCOUNT_SUM,omitempty"`
	TaxRate        *Number `json:"TAX_RATE,omitempty"`
	TaxIncluded    string  `json:"TAX_INCLUDED,omitempty"`
	MeasureCode    Int     `json:"MEASURE_CODE,omitempty"`
	MeasureName    string  `json:"MEASURE_NAME,omitempty"`
	Sort           Int     `json:"SORT,omitempty"`
}

// Discount types of a product row.
const (
	DiscountMonetary Int = 1
	DiscountPercent  Int = 2
)

// Measure is a unit of measure.
type Measure struct {
	ID           Int    `json:"ID,omitempty"`
	Code         Int    `json:"CODE"`
	MeasureTitle string `json:"MEASURE_TITLE"`
	SymbolRus    string `json:"SYMBOL_RUS,omitempty"`
	SymbolIntl   string `json:"SYMBOL_INTL,omitempty"`
	IsDefault    string `json:"IS_DEFAULT,omitempty"`
}

// Address is a requisite address of a company or contact.
type Address struct {
	TypeID       Int    `json:"TYPE_ID"`
	EntityTypeID Int    `json:"ENTITY_TYPE_ID"`
	EntityID     Int    `json:"ENTITY_ID"`
	Address1     string `json:"ADDRESS_1"`
	Address2     string `json:"ADDRESS_2"`
	City         string `json:"CITY"`
	PostalCode   string `json:"POSTAL_CODE"`
	Country      string `json:"COUNTRY"`
}

// User is the authenticated portal user.
type User struct {
	ID       Int            `json:"ID"`
	Name     string         `json:"NAME"`
	LastName string         `json:"LAST_NAME"`
	Email    string         `json:"EMAIL"`
	Fields   map[string]any `json:"-"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.Name + " " + u.LastName)
}

// DiskFile is a file stored on Bitrix24 Drive.
type DiskFile struct {
	ID          Int    `json:"ID"`
	Name        string `json:"NAME"`
	Size        Int    `json:"SIZE"`
	DownloadURL string `json:"DOWNLOAD_URL"`
	DetailURL   string `json:"DETAIL_URL"`
}

// FieldDescription describes one field of an entity.
type FieldDescription struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	IsRequired bool   `json:"isRequired"`
	IsReadOnly bool   `json:"isReadOnly"`
	IsMultiple bool   `json:"isMultiple"`
	FormLabel  string `json:"formLabel,omitempty"`
}
