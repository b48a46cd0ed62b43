package insights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/vendorbot/internal/commerce"
)

type fakeBackend struct {
	stats    *commerce.StoreStats
	products []commerce.Product
	orders   []commerce.Order
	err      error

	orderQueries []commerce.OrderQuery
}

// pageOf returns the slice of items a paged backend would serve.
func pageOf[T any](items []T, perPage, page int) []T {
	if perPage <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	return items[start:min(start+perPage, len(items))]
}

func (f *fakeBackend) StoreStats(ctx context.Context, storeID int64) (*commerce.StoreStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stats == nil {
		return &commerce.StoreStats{}, nil
	}
	return f.stats, nil
}

func (f *fakeBackend) ListStoreProducts(ctx context.Context, storeID int64, q commerce.ProductQuery) ([]commerce.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []commerce.Product
	for _, p := range f.products {
		if q.Status == "" || p.Status == q.Status {
			out = append(out, p)
		}
	}
	return pageOf(out, q.PerPage, q.Page), nil
}

func (f *fakeBackend) ListStoreOrders(ctx context.Context, storeID int64, q commerce.OrderQuery) ([]commerce.Order, error) {
	f.orderQueries = append(f.orderQueries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []commerce.Order
	for _, o := range f.orders {
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		out = append(out, o)
	}
	return pageOf(out, q.PerPage, q.Page), nil
}

func intPtr(n int) *int { return &n }

func order(id int64, status string, total float64, created time.Time, items ...commerce.LineItem) commerce.Order {
	return commerce.Order{
		ID:          id,
		Status:      status,
		Total:       commerce.Amount(total),
		Currency:    "USD",
		DateCreated: commerce.Time{Time: created},
		LineItems:   items,
	}
}

func TestSalesSummary(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	fb := &fakeBackend{orders: []commerce.Order{
		order(1, "completed", 30, now, commerce.LineItem{ProductID: 1, Name: "Mug", Quantity: 2, Total: 30}),
		order(2, "processing", 45, now, commerce.LineItem{ProductID: 2, Name: "Bowl", Quantity: 3, Total: 45}),
		order(3, "cancelled", 100, now, commerce.LineItem{ProductID: 3, Name: "Vase", Quantity: 9, Total: 100}),
	}}
	e := NewEngine(fb)
	e.now = func() time.Time { return now }

	s, err := e.SalesSummary(context.Background(), 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.PeriodDays != 30 || s.Orders != 3 || s.PaidOrders != 2 {
		t.Errorf("counts = %+v", s)
	}
	if s.Revenue != 75 || s.AverageOrderValue != 37.5 {
		t.Errorf("revenue = %v avg = %v", s.Revenue, s.AverageOrderValue)
	}
	if s.ByStatus["cancelled"] != 1 {
		t.Errorf("by_status = %v", s.ByStatus)
	}
	if len(s.TopProducts) != 2 || s.TopProducts[0].Name != "Bowl" {
		t.Errorf("top products = %+v", s.TopProducts)
	}
	if got := fb.orderQueries[0].After; !got.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("after = %v", got)
	}
}

func TestRecommendations(t *testing.T) {
	fb := &fakeBackend{
		products: []commerce.Product{
			{ID: 1, Name: "Mug", Status: "publish", ManageStock: true, StockQuantity: intPtr(2), TotalSales: 5, Description: "d", Images: []commerce.Image{{Src: "x"}}},
			{ID: 2, Name: "Bowl", Status: "draft", Description: "d"},
			{ID: 3, Name: "Vase", Status: "publish", StockStatus: "outofstock", TotalSales: 1, Description: "d", Images: []commerce.Image{{Src: "y"}}},
		},
		orders: []commerce.Order{{ID: 10, Status: "processing"}},
	}

	recs, err := NewEngine(fb).Recommendations(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}

	var text []string
	for _, r := range recs {
		text = append(text, r.Priority+":"+r.Advice)
	}
	joined := strings.Join(text, "\n")
	for _, want := range []string{"1 order(s) waiting", "Restock sold-out items: Vase", "running low on: Mug", "draft products when they are ready: Bowl", "Add photos to: Bowl"} {
		if !strings.Contains(joined, want) {
			t.Errorf("recommendations missing %q:\n%s", want, joined)
		}
	}
	if recs[0].Priority != "high" || recs[len(recs)-1].Priority == "high" {
		t.Errorf("not ordered by priority:\n%s", joined)
	}
}

func TestRecommendations_EmptyCatalog(t *testing.T) {
	recs, err := NewEngine(&fakeBackend{}).Recommendations(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Area != "catalog" {
		t.Errorf("recs = %+v", recs)
	}
}

func TestPricingAdvice(t *testing.T) {
	fb := &fakeBackend{products: []commerce.Product{
		{ID: 1, Name: "Mug", Status: "publish", Price: 10, TotalSales: 3},
		{ID: 2, Name: "Bowl", Status: "publish", Price: 12, TotalSales: 2},
		{ID: 3, Name: "Vase", Status: "publish", Price: 40, TotalSales: 0},
		{ID: 4, Name: "Draft", Status: "draft", Price: 999},
	}}
	e := NewEngine(fb)

	advice, err := e.PricingAdvice(context.Background(), 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if advice.Stats.Products != 3 || advice.Stats.Median != 12 || advice.Stats.Max != 40 {
		t.Errorf("stats = %+v", advice.Stats)
	}
	if len(advice.Suggestions) != 1 || advice.Suggestions[0].ProductID != 3 {
		t.Errorf("suggestions = %+v", advice.Suggestions)
	}

	single, err := e.PricingAdvice(context.Background(), 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(single.Suggestions) != 1 || !strings.Contains(single.Suggestions[0].Advice, "in line") {
		t.Errorf("single = %+v", single.Suggestions)
	}
}

func TestMarketingTips(t *testing.T) {
	general := MarketingTips("")
	social := MarketingTips("Instagram")
	if len(general) == 0 || len(social) <= len(general) {
		t.Errorf("general=%d social=%d", len(general), len(social))
	}
}

func TestWeeklyReport(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	fb := &fakeBackend{
		stats: &commerce.StoreStats{},
		orders: []commerce.Order{
			order(1, "completed", 150, now.AddDate(0, 0, -1), commerce.LineItem{ProductID: 1, Name: "Mug", Quantity: 10, Total: 150}),
			order(2, "completed", 100, now.AddDate(0, 0, -10)),
		},
		products: []commerce.Product{{ID: 1, Name: "Mug", Status: "publish", TotalSales: 10, Description: "d", Images: []commerce.Image{{Src: "x"}}}},
	}
	e := NewEngine(fb)
	e.now = func() time.Time { return now }

	r, err := e.WeeklyReport(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if r.ThisWeek.Revenue != 150 || r.LastWeekRevenue != 100 || r.RevenueChange != 50 {
		t.Errorf("report = %+v", r)
	}
	if len(r.Highlights) != 2 || !strings.Contains(r.Highlights[1], "Mug") {
		t.Errorf("highlights = %v", r.Highlights)
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	_, err := NewEngine(&fakeBackend{err: boom}).WeeklyReport(context.Background(), 7)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}
}

func manyOrders(n int, at time.Time) []commerce.Order {
	orders := make([]commerce.Order, n)
	for i := range orders {
		orders[i] = order(int64(i+1), "completed", 10, at)
	}
	return orders
}

func manyProducts(n int) []commerce.Product {
	products := make([]commerce.Product, n)
	for i := range products {
		products[i] = commerce.Product{ID: int64(i + 1), Name: "Item", Status: "publish", Price: 10, TotalSales: 1, Description: "d", Images: []commerce.Image{{Src: "x"}}}
	}
	return products
}

func TestSalesSummary_Pagination(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		orders      int
		wantOrders  int
		wantRevenue float64
		wantPages   int
		wantPartial bool
	}{
		{"single page", 40, 40, 400, 1, false},
		{"second page", 150, 150, 1500, 2, false},
		{"exact page boundary", 200, 200, 2000, 3, false},
		{"page cap reached", 1050, 1000, 10000, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{orders: manyOrders(tt.orders, now)}
			e := NewEngine(fb)
			e.now = func() time.Time { return now }

			s, err := e.SalesSummary(context.Background(), 7, 30)
			if err != nil {
				t.Fatal(err)
			}
			if s.Orders != tt.wantOrders || s.PaidOrders != tt.wantOrders {
				t.Errorf("orders = %d paid = %d, want %d", s.Orders, s.PaidOrders, tt.wantOrders)
			}
			if s.Revenue != tt.wantRevenue {
				t.Errorf("revenue = %v, want %v", s.Revenue, tt.wantRevenue)
			}
			if s.Partial != tt.wantPartial {
				t.Errorf("partial = %v, want %v", s.Partial, tt.wantPartial)
			}
			if len(fb.orderQueries) != tt.wantPages {
				t.Fatalf("pages read = %d, want %d", len(fb.orderQueries), tt.wantPages)
			}
			for i, q := range fb.orderQueries {
				if q.Page != i+1 || q.PerPage != 100 {
					t.Errorf("query %d = page %d per_page %d", i, q.Page, q.PerPage)
				}
			}
		})
	}
}

func TestPricingAdvice_Pagination(t *testing.T) {
	advice, err := NewEngine(&fakeBackend{products: manyProducts(250)}).PricingAdvice(context.Background(), 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if advice.Stats.Products != 250 || advice.Partial {
		t.Errorf("stats = %+v partial = %v", advice.Stats, advice.Partial)
	}
}

func TestRecommendations_LargeStore(t *testing.T) {
	recs, err := NewEngine(&fakeBackend{products: manyProducts(1200)}).Recommendations(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 || recs[len(recs)-1].Area != "data" {
		t.Fatalf("recs = %+v, want trailing data note", recs)
	}
	if !strings.Contains(recs[len(recs)-1].Advice, "first 1000 products") {
		t.Errorf("advice = %q", recs[len(recs)-1].Advice)
	}

	small, err := NewEngine(&fakeBackend{products: manyProducts(120)}).Recommendations(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range small {
		if r.Area == "data" {
			t.Errorf("unexpected data note for a small store: %+v", r)
		}
	}
}

func TestWeeklyReport_Partial(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	fb := &fakeBackend{orders: manyOrders(1001, now.AddDate(0, 0, -1))}
	e := NewEngine(fb)
	e.now = func() time.Time { return now }

	r, err := e.WeeklyReport(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Partial || !r.ThisWeek.Partial {
		t.Errorf("partial = %v this_week.partial = %v, want both set", r.Partial, r.ThisWeek.Partial)
	}
	if r.ThisWeek.PaidOrders != 1000 {
		t.Errorf("paid orders = %d", r.ThisWeek.PaidOrders)
	}
}
