package comarch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Price is one named price tier of an item.
type Price struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
	Type     string  `json:"type"`
}

// Item is an ERP article.
type Item struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	EAN       string  `json:"ean,omitempty"`
	GroupCode string  `json:"groupCode"`
	VATRate   float64 `json:"vatRate"`
	Prices    []Price `json:"prices"`
}

// ItemsGroup is a node of the article group tree.
type ItemsGroup struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	ParentID int64  `json:"parentId,omitempty"`
}

// Warehouse is an ERP warehouse.
type Warehouse struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Stock is the quantity of an item in one warehouse.
type Stock struct {
	ItemCode  string  `json:"itemCode"`
	Warehouse string  `json:"warehouse"`
	Quantity  float64 `json:"quantity"`
	Reserved  float64 `json:"reserved"`
}

// Available is the unreserved quantity.
func (s Stock) Available() float64 {
	return s.Quantity - s.Reserved
}

// Customer is an ERP contractor.
type Customer struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	NIP        string `json:"nip"`
	City       string `json:"city,omitempty"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Document types issued from orders.
const (
	DocumentInvoice = "FS"
	DocumentRelease = "WZ"
)

// DocumentItem is a line of a document.
type DocumentItem struct {
	ItemCode     string  `json:"itemCode"`
	Name         string  `json:"name,omitempty"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit,omitempty"`
	NetPrice     float64 `json:"netPrice"`
	VATRate      float64 `json:"vatRate"`
	DiscountRate float64 `json:"discountRate,omitempty"`
}

// Document is a sales or warehouse document.
type Document struct {
	ID           int64          `json:"id,omitempty"`
	Number       string         `json:"number,omitempty"`
	Type         string         `json:"type"`
	CustomerCode string         `json:"customerCode"`
	Warehouse    string         `json:"warehouse,omitempty"`
	IssueDate    time.Time      `json:"issueDate"`
	Description  string         `json:"description,omitempty"`
	Items        []DocumentItem `json:"items"`
}

// DocumentAttribute is a custom attribute attached to a document.
type DocumentAttribute struct {
	DocumentID int64  `json:"documentId"`
	Code       string `json:"code"`
	Value      string `json:"value"`
}

// ItemsQuery filters Items.
type ItemsQuery struct {
	Search    string
	Code      string
	GroupCode string
	Limit     int
}

// Items lists articles.
func (c *Client) Items(ctx context.Context, q ItemsQuery) ([]Item, error) {
	query := url.Values{}
	if q.Search != "" {
		query.Set("search", q.Search)
	}
	if q.Code != "" {
		query.Set("code", q.Code)
	}
	if q.GroupCode != "" {
		query.Set("groupCode", q.GroupCode)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	var items []Item
	if err := c.do(ctx, http.MethodGet, "Items", query, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ItemsGroups lists article groups.
func (c *Client) ItemsGroups(ctx context.Context) ([]ItemsGroup, error) {
	var groups []ItemsGroup
	if err := c.do(ctx, http.MethodGet, "ItemsGroups", nil, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Warehouses lists warehouses.
func (c *Client) Warehouses(ctx context.Context) ([]Warehouse, error) {
	var warehouses []Warehouse
	if err := c.do(ctx, http.MethodGet, "Warehouses", nil, nil, &warehouses); err != nil {
		return nil, err
	}
	return warehouses, nil
}

// Stocks lists stock levels of the given items; an empty warehouse means all.
func (c *Client) Stocks(ctx context.Context, itemCodes []string, warehouse string) ([]Stock, error) {
	query := url.Values{}
	for _, code := range itemCodes {
		query.Add("itemCode", code)
	}
	if warehouse != "" {
		query.Set("warehouse", warehouse)
	}
	var stocks []Stock
	if err := c.do(ctx, http.MethodGet, "Stocks", query, nil, &stocks); err != nil {
		return nil, err
	}
	return stocks, nil
}

// CustomerByNIP finds a contractor by tax id.
func (c *Client) CustomerByNIP(ctx context.Context, nip string) (*Customer, error) {
	var customers []Customer
	if err := c.do(ctx, http.MethodGet, "Customers", url.Values{"nip": {nip}}, nil, &customers); err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, &APIError{Resource: "Customers", Status: http.StatusNotFound, Message: "no customer with nip " + nip}
	}
	return &customers[0], nil
}

// CreateCustomer registers a contractor.
func (c *Client) CreateCustomer(ctx context.Context, customer Customer) (*Customer, error) {
	var created Customer
	if err := c.do(ctx, http.MethodPost, "Customers", nil, customer, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateDocument issues a document and returns it with its number.
func (c *Client) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	var created Document
	if err := c.do(ctx, http.MethodPost, "Documents", nil, doc, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Document fetches a document by number.
func (c *Client) Document(ctx context.Context, number string) (*Document, error) {
	var docs []Document
	if err := c.do(ctx, http.MethodGet, "Documents", url.Values{"number": {number}}, nil, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, &APIError{Resource: "Documents", Status: http.StatusNotFound, Message: "no document " + number}
	}
	return &docs[0], nil
}

// SetDocumentAttribute attaches an attribute to a document.
func (c *Client) SetDocumentAttribute(ctx context.Context, attr DocumentAttribute) error {
	return c.do(ctx, http.MethodPost, "DocumentsAttribute", nil, attr, nil)
}

// ExportDocument queues a document for export to accounting.
func (c *Client) ExportDocument(ctx context.Context, documentID int64) error {
	return c.do(ctx, http.MethodPost, "DocumentsExport", nil, map[string]int64{"documentId": documentID}, nil)
}
