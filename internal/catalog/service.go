package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/comarch"
	"github.com/fencecraft/crmbridge/internal/platform/cache"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
	"github.com/fencecraft/crmbridge/internal/pricing"
	"github.com/fencecraft/crmbridge/internal/sqlsvc"
)

// ERP is the subset of the Comarch client the catalog reads.
type ERP interface {
	Items(ctx context.Context, q comarch.ItemsQuery) ([]comarch.Item, error)
	ItemsGroups(ctx context.Context) ([]comarch.ItemsGroup, error)
	Warehouses(ctx context.Context) ([]comarch.Warehouse, error)
	Stocks(ctx context.Context, itemCodes []string, warehouse string) ([]comarch.Stock, error)
}

// PriceBook supplies overrides and group tags.
type PriceBook interface {
	PriceOverrides(ctx context.Context, itemCodes []string) ([]sqlsvc.PriceOverride, error)
	GroupTags(ctx context.Context, groupCodes []string) ([]sqlsvc.GroupTag, error)
}

// CRM supplies the current user and the measure dictionary.
type CRM interface {
	CurrentUser(ctx context.Context) (bitrix.User, error)
	ListMeasures(ctx context.Context) ([]bitrix.Measure, error)
}

// Service composes catalog views from the ERP, the SQL service and the CRM.
type Service struct {
	erp      ERP
	prices   PriceBook
	crm      CRM
	cache    *cache.JSONCache
	logger   *slog.Logger
	capField string
}

// Config wires a Service.
type Config struct {
	ERP       ERP
	PriceBook PriceBook
	CRM       CRM
	Cache     *cache.JSONCache
	Logger    *slog.Logger
	// DiscountField is the user custom field holding the discount cap in percent.
	DiscountField string
}

// NewService constructs the catalog service.
func NewService(cfg Config) *Service {
	return &Service{
		erp:      cfg.ERP,
		prices:   cfg.PriceBook,
		crm:      cfg.CRM,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		capField: cfg.DiscountField,
	}
}

// Search lists products matching q, with prices in q.PriceType.
func (s *Service) Search(ctx context.Context, q Query) ([]Product, error) {
	if s.erp == nil {
		return nil, fmt.Errorf("catalog: erp: %w", httpx.ErrUnavailable)
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	items, err := s.items(ctx, comarch.ItemsQuery{Search: strings.TrimSpace(q.Text), GroupCode: q.GroupCode, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, items, q)
}

// Lookup returns the product with the given code.
func (s *Service) Lookup(ctx context.Context, code string, q Query) (Product, error) {
	if s.erp == nil {
		return Product{}, fmt.Errorf("catalog: erp: %w", httpx.ErrUnavailable)
	}
	items, err := s.items(ctx, comarch.ItemsQuery{Code: code, Limit: 1})
	if err != nil {
		return Product{}, err
	}
	for _, item := range items {
		if item.Code != code {
			continue
		}
		products, err := s.enrich(ctx, []comarch.Item{item}, q)
		if err != nil {
			return Product{}, err
		}
		return products[0], nil
	}
	return Product{}, fmt.Errorf("catalog: item %s: %w", code, httpx.ErrNotFound)
}

// UserMaxDiscount reads the current user's discount cap. A missing or
// unreadable field means no discount.
func (s *Service) UserMaxDiscount(ctx context.Context) (float64, error) {
	if s.crm == nil || s.capField == "" {
		return 0, nil
	}
	user, err := s.crm.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	raw, ok := user.Fields[s.capField]
	if !ok || raw == nil {
		return 0, nil
	}
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case string:
		parsed, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(t), ",", ".", 1), 64)
		if err != nil {
			s.logger.Warn("unreadable discount cap", slog.String("field", s.capField), slog.Int64("user_id", int64(user.ID)))
			return 0, nil
		}
		v = parsed
	}
	if v < 0 {
		return 0, nil
	}
	return v, nil
}

// Dictionaries returns warehouses, groups and measures, cached.
func (s *Service) Dictionaries(ctx context.Context) (Dictionaries, error) {
	var dict Dictionaries
	if s.erp == nil {
		return dict, fmt.Errorf("catalog: erp: %w", httpx.ErrUnavailable)
	}
	key, err := s.cache.Key(ctx, "dictionaries")
	if err != nil {
		return dict, err
	}
	err = s.cache.Fetch(ctx, key, &dict, func(ctx context.Context) (any, error) {
		var out Dictionaries
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			out.Warehouses, err = s.erp.Warehouses(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			out.Groups, err = s.erp.ItemsGroups(gctx)
			return err
		})
		if s.crm != nil {
			g.Go(func() error {
				var err error
				out.Measures, err = s.crm.ListMeasures(gctx)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
	return dict, err
}

// Refresh invalidates every cached catalog entry.
func (s *Service) Refresh(ctx context.Context) (int64, error) {
	start := time.Now()
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("catalog cache refreshed", slog.Int64("version", ver), slog.Duration("elapsed", time.Since(start)))
	return ver, nil
}

func (s *Service) items(ctx context.Context, q comarch.ItemsQuery) ([]comarch.Item, error) {
	key, err := s.cache.Key(ctx, "items", normalise(q.Search), q.Code, q.GroupCode, strconv.Itoa(q.Limit))
	if err != nil {
		return nil, err
	}
	var items []comarch.Item
	err = s.cache.Fetch(ctx, key, &items, func(ctx context.Context) (any, error) {
		return s.erp.Items(ctx, q)
	})
	return items, err
}

func (s *Service) enrich(ctx context.Context, items []comarch.Item, q Query) ([]Product, error) {
	if len(items) == 0 {
		return []Product{}, nil
	}
	codes := make([]string, 0, len(items))
	groupSet := map[string]struct{}{}
	for _, item := range items {
		codes = append(codes, item.Code)
		if item.GroupCode != "" {
			groupSet[item.GroupCode] = struct{}{}
		}
	}
	groups := make([]string, 0, len(groupSet))
	for code := range groupSet {
		groups = append(groups, code)
	}

	var (
		stocks    []comarch.Stock
		overrides []sqlsvc.PriceOverride
		tags      []sqlsvc.GroupTag
		userMax   float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stocks, err = s.erp.Stocks(gctx, codes, q.Warehouse)
		return err
	})
	g.Go(func() error {
		var err error
		userMax, err = s.UserMaxDiscount(gctx)
		return err
	})
	if s.prices != nil {
		g.Go(func() error {
			var err error
			if overrides, err = s.prices.PriceOverrides(gctx, codes); err != nil {
				s.logger.Warn("price overrides unavailable", slog.Any("error", err))
				overrides = nil
			}
			if tags, err = s.prices.GroupTags(gctx, groups); err != nil {
				s.logger.Warn("group tags unavailable", slog.Any("error", err))
				tags = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stockByItem := map[string]map[string]float64{}
	for _, st := range stocks {
		if stockByItem[st.ItemCode] == nil {
			stockByItem[st.ItemCode] = map[string]float64{}
		}
		stockByItem[st.ItemCode][st.Warehouse] += st.Available()
	}
	overrideByItem := map[string][]sqlsvc.PriceOverride{}
	for _, o := range overrides {
		overrideByItem[o.ItemCode] = append(overrideByItem[o.ItemCode], o)
	}
	tagsByGroup := map[string][]string{}
	for _, t := range tags {
		tagsByGroup[t.GroupCode] = append(tagsByGroup[t.GroupCode], t.Tag)
	}

	priceType := q.PriceType
	if priceType == "" {
		priceType = pricing.Netto
	}
	priceName := q.PriceName
	if priceName == "" {
		priceName = DefaultPriceName
	}

	products := make([]Product, 0, len(items))
	for _, item := range items {
		prices := toPrices(item.Prices)
		for _, o := range overrideByItem[item.Code] {
			prices[o.PriceName] = pricing.Price{
				Name:     o.PriceName,
				Value:    o.Value,
				Currency: o.Currency,
				Type:     pricing.ParsePriceType(o.Type),
			}
		}
		prices = pricing.ConvertPrices(prices, item.VATRate, priceType)
		product := Product{
			Code:      item.Code,
			Name:      item.Name,
			Unit:      item.Unit,
			GroupCode: item.GroupCode,
			Tags:      tagsByGroup[item.GroupCode],
			VATRate:   item.VATRate,
			PriceType: priceType,
			Prices:    prices,
			Stock:     stockByItem[item.Code],
		}
		if product.Stock == nil {
			product.Stock = map[string]float64{}
		}
		for _, qty := range product.Stock {
			product.StockTotal += qty
		}
		product.MaxDiscount = pricing.CalculateMaxDiscount(pricing.Item{Prices: prices, VATRate: item.VATRate}, priceName, userMax)
		products = append(products, product)
	}
	return products, nil
}
