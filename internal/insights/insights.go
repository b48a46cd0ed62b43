// Package insights derives business advice for a vendor store from its
// orders, products and dashboard stats. All computation is local; the
// backend is only read.
package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nugget/vendorbot/internal/commerce"
)

// Backend is the read-only slice of the commerce client this package uses.
type Backend interface {
	StoreStats(ctx context.Context, storeID int64) (*commerce.StoreStats, error)
	ListStoreProducts(ctx context.Context, storeID int64, q commerce.ProductQuery) ([]commerce.Product, error)
	ListStoreOrders(ctx context.Context, storeID int64, q commerce.OrderQuery) ([]commerce.Order, error)
}

// Engine computes insights.
type Engine struct {
	backend Backend
	now     func() time.Time
}

// NewEngine returns an Engine reading from backend.
func NewEngine(backend Backend) *Engine {
	return &Engine{backend: backend, now: time.Now}
}

// revenueStatuses are the order states that count as a sale.
var revenueStatuses = map[string]bool{
	"processing": true,
	"on-hold":    true,
	"completed":  true,
}

const (
	pageSize = 100
	// maxPages caps the backend pages one report reads.
	maxPages = 10
)

// collect reads pages from fetch until a short page comes back. The
// boolean reports whether maxPages was reached first, in which case the
// result may be missing records.
func collect[T any](fetch func(page int) ([]T, error)) ([]T, bool, error) {
	var out []T
	for page := 1; page <= maxPages; page++ {
		batch, err := fetch(page)
		if err != nil {
			return nil, false, err
		}
		out = append(out, batch...)
		if len(batch) < pageSize {
			return out, false, nil
		}
	}
	return out, true, nil
}

func (e *Engine) orders(ctx context.Context, storeID int64, q commerce.OrderQuery) ([]commerce.Order, bool, error) {
	return collect(func(page int) ([]commerce.Order, error) {
		q.PerPage, q.Page = pageSize, page
		return e.backend.ListStoreOrders(ctx, storeID, q)
	})
}

func (e *Engine) products(ctx context.Context, storeID int64, q commerce.ProductQuery) ([]commerce.Product, bool, error) {
	return collect(func(page int) ([]commerce.Product, error) {
		q.PerPage, q.Page = pageSize, page
		return e.backend.ListStoreProducts(ctx, storeID, q)
	})
}

// ProductSales is one row of a top-sellers list.
type ProductSales struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Revenue   float64 `json:"revenue"`
}

// SalesSummary covers the orders placed in a trailing window.
type SalesSummary struct {
	PeriodDays        int            `json:"period_days"`
	Orders            int            `json:"orders"`
	PaidOrders        int            `json:"paid_orders"`
	Revenue           float64        `json:"revenue"`
	AverageOrderValue float64        `json:"average_order_value"`
	ByStatus          map[string]int `json:"by_status"`
	TopProducts       []ProductSales `json:"top_products"`
	Currency          string         `json:"currency,omitempty"`
	// Partial is set when the window held more orders than were read.
	Partial bool `json:"partial,omitempty"`
}

// SalesSummary summarizes the last days of orders for storeID.
func (e *Engine) SalesSummary(ctx context.Context, storeID int64, days int) (*SalesSummary, error) {
	if days <= 0 {
		days = 30
	}
	since := e.now().AddDate(0, 0, -days)
	orders, partial, err := e.orders(ctx, storeID, commerce.OrderQuery{After: since})
	if err != nil {
		return nil, fmt.Errorf("sales summary: %w", err)
	}
	s := summarize(orders, days)
	s.Partial = partial
	return s, nil
}

func summarize(orders []commerce.Order, days int) *SalesSummary {
	s := &SalesSummary{
		PeriodDays:  days,
		Orders:      len(orders),
		ByStatus:    make(map[string]int),
		TopProducts: []ProductSales{},
	}

	byProduct := make(map[int64]*ProductSales)
	for _, o := range orders {
		s.ByStatus[o.Status]++
		if s.Currency == "" {
			s.Currency = o.Currency
		}
		if !revenueStatuses[o.Status] {
			continue
		}
		s.PaidOrders++
		s.Revenue += float64(o.Total)
		for _, li := range o.LineItems {
			ps, ok := byProduct[li.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: li.ProductID, Name: li.Name}
				byProduct[li.ProductID] = ps
			}
			ps.Quantity += li.Quantity
			ps.Revenue += float64(li.Total)
		}
	}
	if s.PaidOrders > 0 {
		s.AverageOrderValue = round2(s.Revenue / float64(s.PaidOrders))
	}
	s.Revenue = round2(s.Revenue)

	for _, ps := range byProduct {
		ps.Revenue = round2(ps.Revenue)
		s.TopProducts = append(s.TopProducts, *ps)
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		a, b := s.TopProducts[i], s.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ProductID < b.ProductID
	})
	if len(s.TopProducts) > 5 {
		s.TopProducts = s.TopProducts[:5]
	}
	return s
}

// Recommendation is one actionable suggestion.
type Recommendation struct {
	Priority string `json:"priority"` // high, medium, low
	Area     string `json:"area"`
	Advice   string `json:"advice"`
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Recommendations inspects the catalog and open orders for storeID. When
// the store is too large to read in full, a final "data" entry says so.
func (e *Engine) Recommendations(ctx context.Context, storeID int64) ([]Recommendation, error) {
	products, partialProducts, err := e.products(ctx, storeID, commerce.ProductQuery{})
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	pending, partialOrders, err := e.orders(ctx, storeID, commerce.OrderQuery{Status: "processing"})
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	recs := recommend(products, pending)
	if partialProducts || partialOrders {
		recs = append(recs, Recommendation{
			Priority: "low",
			Area:     "data",
			Advice:   fmt.Sprintf("Your store is large, so only the first %d products and open orders were reviewed.", pageSize*maxPages),
		})
	}
	return recs, nil
}

func recommend(products []commerce.Product, processing []commerce.Order) []Recommendation {
	var recs []Recommendation

	if n := len(processing); n > 0 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Area:     "orders",
			Advice:   fmt.Sprintf("You have %d order(s) waiting to be fulfilled. Ship them and mark them completed to keep your rating up.", n),
		})
	}
	if len(products) == 0 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Area:     "catalog",
			Advice:   "Your store has no products yet. Add your first product so customers can find you.",
		})
		return recs
	}

	var lowStock, outOfStock, drafts, noImage, noDescription, noSales []string
	for _, p := range products {
		switch {
		case p.StockStatus == "outofstock":
			outOfStock = append(outOfStock, p.Name)
		case p.ManageStock && p.StockQuantity != nil && *p.StockQuantity <= 3:
			lowStock = append(lowStock, p.Name)
		}
		if p.Status == "draft" || p.Status == "pending" {
			drafts = append(drafts, p.Name)
		}
		if len(p.Images) == 0 {
			noImage = append(noImage, p.Name)
		}
		if strings.TrimSpace(p.Description) == "" && strings.TrimSpace(p.ShortDescription) == "" {
			noDescription = append(noDescription, p.Name)
		}
		if p.Status == "publish" && p.TotalSales == 0 {
			noSales = append(noSales, p.Name)
		}
	}

	add := func(priority, area, format string, names []string) {
		if len(names) == 0 {
			return
		}
		recs = append(recs, Recommendation{Priority: priority, Area: area, Advice: fmt.Sprintf(format, listNames(names))})
	}
	add("high", "inventory", "Restock sold-out items: %s.", outOfStock)
	add("medium", "inventory", "Stock is running low on: %s.", lowStock)
	add("medium", "catalog", "Publish your draft products when they are ready: %s.", drafts)
	add("medium", "catalog", "Add photos to: %s. Listings with images sell far better.", noImage)
	add("low", "catalog", "Write descriptions for: %s.", noDescription)
	add("low", "marketing", "These products have not sold yet; consider a promotion or a price review: %s.", noSales)

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank[recs[i].Priority] < priorityRank[recs[j].Priority]
	})
	return recs
}

// PriceStats describes the distribution of a store's prices.
type PriceStats struct {
	Products int     `json:"products"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Average  float64 `json:"average"`
	Median   float64 `json:"median"`
}

// PriceSuggestion is advice for one product.
type PriceSuggestion struct {
	ProductID    int64   `json:"product_id"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
	Advice       string  `json:"advice"`
}

// PricingAdvice is the result of a pricing review.
type PricingAdvice struct {
	Stats       PriceStats        `json:"stats"`
	Suggestions []PriceSuggestion `json:"suggestions"`
	Partial     bool              `json:"partial,omitempty"`
}

// PricingAdvice reviews prices across storeID's published catalog. When
// productID is non-zero only that product gets suggestions.
func (e *Engine) PricingAdvice(ctx context.Context, storeID, productID int64) (*PricingAdvice, error) {
	products, partial, err := e.products(ctx, storeID, commerce.ProductQuery{Status: "publish"})
	if err != nil {
		return nil, fmt.Errorf("pricing advice: %w", err)
	}
	advice := advisePricing(products, productID)
	advice.Partial = partial
	return advice, nil
}

func advisePricing(products []commerce.Product, productID int64) *PricingAdvice {
	var prices []float64
	for _, p := range products {
		if price := float64(p.Price); price > 0 {
			prices = append(prices, price)
		}
	}
	advice := &PricingAdvice{Suggestions: []PriceSuggestion{}}
	if len(prices) == 0 {
		return advice
	}

	sort.Float64s(prices)
	var total float64
	for _, p := range prices {
		total += p
	}
	st := PriceStats{
		Products: len(prices),
		Min:      prices[0],
		Max:      prices[len(prices)-1],
		Average:  round2(total / float64(len(prices))),
	}
	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		st.Median = round2((prices[mid-1] + prices[mid]) / 2)
	} else {
		st.Median = prices[mid]
	}
	advice.Stats = st

	for _, p := range products {
		if productID != 0 && p.ID != productID {
			continue
		}
		price := float64(p.Price)
		if price <= 0 {
			continue
		}
		var text string
		switch {
		case price > st.Median*1.5 && p.TotalSales == 0:
			text = fmt.Sprintf("Priced well above your typical %.2f and not selling yet. Try a launch discount or a lower price.", st.Median)
		case price < st.Median*0.5 && p.TotalSales > 10:
			text = "Selling well at a low price. You likely have room to raise it a little."
		case p.OnSale && p.TotalSales == 0:
			text = "On sale without results. The issue may be photos or the description rather than price."
		case productID != 0:
			text = fmt.Sprintf("Price is in line with the rest of your catalog (median %.2f).", st.Median)
		default:
			continue
		}
		advice.Suggestions = append(advice.Suggestions, PriceSuggestion{
			ProductID:    p.ID,
			Name:         p.Name,
			CurrentPrice: price,
			Advice:       text,
		})
	}
	return advice
}

// MarketingTips returns general tips, optionally tuned to a topic. It
// needs no store.
func MarketingTips(topic string) []string {
	tips := []string{
		"Post new products on WhatsApp Status and Instagram Stories the day they go live.",
		"Use clear photos on a plain background, with at least one showing the product in use.",
		"Reply to every customer question within a few hours; quick answers win sales.",
		"Ask happy customers for a review right after delivery.",
		"Bundle slow movers with best sellers instead of discounting them alone.",
	}
	switch strings.ToLower(strings.TrimSpace(topic)) {
	case "social", "social_media", "instagram", "facebook":
		tips = append([]string{
			"Keep a steady rhythm: three to four posts a week beats a burst followed by silence.",
			"Show the maker: short behind-the-scenes clips build trust.",
		}, tips...)
	case "pricing", "discounts", "promotion":
		tips = append([]string{
			"Time-limited offers (48 hours) convert better than open-ended discounts.",
			"Round prices just under a whole number and show the saving when on sale.",
		}, tips...)
	case "events", "market":
		tips = append([]string{
			"Announce market appearances a week ahead and again the morning of the event.",
			"Bring a QR code that links straight to your store page.",
		}, tips...)
	}
	return tips
}

// WeeklyReport compares the last seven days with the seven before.
type WeeklyReport struct {
	ThisWeek        *SalesSummary        `json:"this_week"`
	LastWeekRevenue float64              `json:"last_week_revenue"`
	LastWeekOrders  int                  `json:"last_week_orders"`
	RevenueChange   float64              `json:"revenue_change_pct"`
	Stats           *commerce.StoreStats `json:"store_stats,omitempty"`
	Highlights      []string             `json:"highlights"`
	TopAction       *Recommendation      `json:"top_action,omitempty"`
	Partial         bool                 `json:"partial,omitempty"`
}

// WeeklyReport builds the report for storeID.
func (e *Engine) WeeklyReport(ctx context.Context, storeID int64) (*WeeklyReport, error) {
	now := e.now()
	orders, partialOrders, err := e.orders(ctx, storeID, commerce.OrderQuery{After: now.AddDate(0, 0, -14)})
	if err != nil {
		return nil, fmt.Errorf("weekly report: %w", err)
	}
	stats, err := e.backend.StoreStats(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("weekly report: %w", err)
	}
	products, partialProducts, err := e.products(ctx, storeID, commerce.ProductQuery{})
	if err != nil {
		return nil, fmt.Errorf("weekly report: %w", err)
	}

	cut := now.AddDate(0, 0, -7)
	var thisWeek, lastWeek []commerce.Order
	for _, o := range orders {
		if o.DateCreated.IsZero() || !o.DateCreated.Before(cut) {
			thisWeek = append(thisWeek, o)
		} else {
			lastWeek = append(lastWeek, o)
		}
	}

	r := &WeeklyReport{
		ThisWeek:   summarize(thisWeek, 7),
		Stats:      stats,
		Highlights: []string{},
		Partial:    partialOrders || partialProducts,
	}
	r.ThisWeek.Partial = partialOrders
	prev := summarize(lastWeek, 7)
	r.LastWeekRevenue = prev.Revenue
	r.LastWeekOrders = prev.PaidOrders
	if prev.Revenue > 0 {
		r.RevenueChange = round2((r.ThisWeek.Revenue - prev.Revenue) / prev.Revenue * 100)
	}

	switch {
	case r.ThisWeek.PaidOrders == 0:
		r.Highlights = append(r.Highlights, "No paid orders this week.")
	case r.RevenueChange > 0:
		r.Highlights = append(r.Highlights, fmt.Sprintf("Revenue up %.0f%% on last week.", r.RevenueChange))
	case r.RevenueChange < 0:
		r.Highlights = append(r.Highlights, fmt.Sprintf("Revenue down %.0f%% on last week.", math.Abs(r.RevenueChange)))
	}
	if len(r.ThisWeek.TopProducts) > 0 {
		top := r.ThisWeek.TopProducts[0]
		r.Highlights = append(r.Highlights, fmt.Sprintf("Best seller: %s (%d sold).", top.Name, top.Quantity))
	}

	var processing []commerce.Order
	for _, o := range orders {
		if o.Status == "processing" {
			processing = append(processing, o)
		}
	}
	if recs := recommend(products, processing); len(recs) > 0 {
		r.TopAction = &recs[0]
	}
	return r, nil
}

func listNames(names []string) string {
	const limit = 5
	if len(names) <= limit {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:limit], ", "), len(names)-limit)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
