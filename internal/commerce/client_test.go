package commerce

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// testServer serves canned JSON per "METHOD path" and records requests.
type testServer struct {
	mu       sync.Mutex
	url      string
	routes   map[string]string
	status   map[string]int
	requests []*http.Request
	bodies   []string
}

func newTestServer(t *testing.T) (*testServer, *Client) {
	t.Helper()
	ts := &testServer{routes: map[string]string{}, status: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	c := New(Config{BaseURL: srv.URL + "/", ConsumerKey: "ck_test", ConsumerSecret: "cs_test"}, nil)
	return ts, c
}

func (ts *testServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.requests = append(ts.requests, r)
	ts.bodies = append(ts.bodies, string(body))

	user, pass, ok := r.BasicAuth()
	if !ok || user != "ck_test" || pass != "cs_test" {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"code":"woocommerce_rest_cannot_view","message":"Sorry, you cannot list resources.","data":{"status":401}}`)
		return
	}

	key := r.Method + " " + r.URL.Path
	resp, ok := ts.routes[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"rest_no_route","message":"No route was found matching the URL and request method.","data":{"status":404}}`)
		return
	}
	if code := ts.status[key]; code != 0 {
		w.WriteHeader(code)
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, resp)
}

func (ts *testServer) last() *http.Request {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[len(ts.requests)-1]
}

func (ts *testServer) lastBody() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.bodies[len(ts.bodies)-1]
}

func TestGetStore(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["GET /wp-json/dokan/v1/stores/7"] = `{"id":7,"store_name":"Kiln & Co","email":"owner@kiln.example","enabled":true,
		"rating":{"rating":"4.50","count":12},"registered":"2025-01-02 03:04:05"}`

	s, err := c.GetStore(t.Context(), 7)
	if err != nil {
		t.Fatalf("GetStore: %v", err)
	}
	if s.StoreName != "Kiln & Co" || s.Email != "owner@kiln.example" {
		t.Errorf("unexpected store %+v", s)
	}
	if s.Rating.Rating != 4.5 || s.Rating.Count != 12 {
		t.Errorf("rating = %+v", s.Rating)
	}
	if s.Registered.Year() != 2025 {
		t.Errorf("registered = %v", s.Registered)
	}
}

func TestGetStore_NotFound(t *testing.T) {
	_, c := newTestServer(t)

	_, err := c.GetStore(t.Context(), 404)
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "rest_no_route" {
		t.Errorf("APIError not decoded: %v", err)
	}
}

func TestListStoreProducts_Query(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["GET /wp-json/dokan/v1/stores/7/products"] = `[
		{"id":1,"name":"Mug","status":"publish","price":"12.50","regular_price":"15.00","sale_price":"12.50","stock_quantity":3,"store":{"id":7}},
		{"id":2,"name":"Bowl","status":"draft","price":"","regular_price":"","sale_price":"","stock_quantity":null,
		 "meta_data":[{"id":1,"key":"_dokan_vendor_id","value":"7"}]}
	]`

	products, err := c.ListStoreProducts(t.Context(), 7, ProductQuery{Status: "publish", Search: "mug", PerPage: 500})
	if err != nil {
		t.Fatalf("ListStoreProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}
	if products[0].Price != 12.5 || *products[0].StockQuantity != 3 {
		t.Errorf("unexpected product %+v", products[0])
	}
	if products[1].StockQuantity != nil || products[1].Price != 0 {
		t.Errorf("empty price/stock not tolerated: %+v", products[1])
	}
	for _, p := range products {
		if p.VendorID() != 7 {
			t.Errorf("product %d VendorID = %d, want 7", p.ID, p.VendorID())
		}
	}

	q := ts.last().URL.Query()
	if q.Get("status") != "publish" || q.Get("search") != "mug" || q.Get("per_page") != "100" {
		t.Errorf("query = %v", q)
	}
}

func TestCreateProduct_SendsBody(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["POST /wp-json/wc/v3/products"] = `{"id":99,"name":"Vase","status":"draft","regular_price":"30.00"}`
	ts.status["POST /wp-json/wc/v3/products"] = http.StatusCreated

	p, err := c.CreateProduct(t.Context(), ProductInput{
		Name:         "Vase",
		Status:       "draft",
		RegularPrice: "30.00",
		MetaData:     []MetaData{{Key: "_dokan_vendor_id", Value: 7}},
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if p.ID != 99 || p.RegularPrice != 30 {
		t.Errorf("unexpected product %+v", p)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.lastBody()), &sent); err != nil {
		t.Fatal(err)
	}
	if sent["status"] != "draft" || sent["name"] != "Vase" {
		t.Errorf("sent body = %v", sent)
	}
	if _, ok := sent["sale_price"]; ok {
		t.Error("nil sale_price should be omitted")
	}
	if ct := ts.last().Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDeleteProduct_Force(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["DELETE /wp-json/wc/v3/products/5"] = `{"id":5,"name":"Old","status":"trash"}`

	if _, err := c.DeleteProduct(t.Context(), 5, false); err != nil {
		t.Fatal(err)
	}
	if got := ts.last().URL.Query().Get("force"); got != "false" {
		t.Errorf("force = %q, want false", got)
	}
}

func TestOrders(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["GET /wp-json/dokan/v1/stores/7/orders"] = `[{"id":10,"status":"processing","total":"45.00","store":{"id":7},
		"line_items":[{"id":1,"name":"Mug","product_id":1,"quantity":3,"total":"45.00"}]}]`
	ts.routes["PUT /wp-json/wc/v3/orders/10"] = `{"id":10,"status":"completed","total":"45.00"}`

	orders, err := c.ListStoreOrders(t.Context(), 7, OrderQuery{Status: "processing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Total != 45 || orders[0].LineItems[0].Quantity != 3 {
		t.Errorf("unexpected orders %+v", orders)
	}

	o, err := c.UpdateOrderStatus(t.Context(), 10, "completed")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != "completed" {
		t.Errorf("status = %q", o.Status)
	}
	if body := ts.lastBody(); body != `{"status":"completed"}` {
		t.Errorf("body = %s", body)
	}
}

func TestStoreStats(t *testing.T) {
	ts, c := newTestServer(t)
	ts.routes["GET /wp-json/dokan/v1/stores/7/stats"] = `{"products":{"total":12,"live":10,"offline":2,"pending_review":0},
		"revenue":{"orders":30,"sales":"1250.75","earning":1000.6},"others":{"reviews":4,"visitors":300}}`

	st, err := c.StoreStats(t.Context(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if st.Products.Total != 12 || st.Revenue.Orders != 30 || st.Revenue.Sales != 1250.75 || st.Revenue.Earning != 1000.6 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestUnauthorized(t *testing.T) {
	ts, _ := newTestServer(t)

	bad := New(Config{BaseURL: ts.url, ConsumerKey: "wrong", ConsumerSecret: "wrong"}, nil)
	_, err := bad.ListCategories(t.Context(), CategoryQuery{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
	if IsNotFound(err) {
		t.Error("401 reported as not found")
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
		err  bool
	}{
		{`"19.99"`, 19.99, false},
		{`19.99`, 19.99, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tc := range tests {
		var a Amount
		err := json.Unmarshal([]byte(tc.in), &a)
		if (err != nil) != tc.err {
			t.Errorf("Unmarshal(%s) err = %v", tc.in, err)
		}
		if !tc.err && a != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, a, tc.want)
		}
	}
	if Amount(5).String() != "5.00" {
		t.Errorf("String() = %q", Amount(5).String())
	}
}
