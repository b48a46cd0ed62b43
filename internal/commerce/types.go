package commerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Amount is a monetary value. WooCommerce sends prices as strings and
// Dokan sends stats as numbers; both decode here.
type Amount float64

// UnmarshalJSON accepts a JSON number, a numeric string, an empty
// string, or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// String formats the amount with two decimals, the way WooCommerce
// expects prices on write.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', 2, 64)
}

// Time decodes WordPress local timestamps ("2006-01-02T15:04:05") as
// well as RFC 3339.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Store is a Dokan vendor store.
type Store struct {
	ID        int64   `json:"id"`
	StoreName string  `json:"store_name"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Email     string  `json:"email,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	ShopURL   string  `json:"shop_url,omitempty"`
	Enabled   bool    `json:"enabled"`
	Featured  bool    `json:"featured,omitempty"`
	Address   Address `json:"address"`
	Rating    struct {
		Rating Amount `json:"rating"`
		Count  int    `json:"count"`
	} `json:"rating"`
	Registered Time `json:"registered"`
}

// Address is a postal address as Dokan reports it.
type Address struct {
	Street1 string `json:"street_1,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

// StoreStats is the Dokan per-store dashboard summary.
type StoreStats struct {
	Products struct {
		Total         int `json:"total"`
		Live          int `json:"live"`
		Offline       int `json:"offline"`
		PendingReview int `json:"pending_review"`
	} `json:"products"`
	Revenue struct {
		Orders  int    `json:"orders"`
		Sales   Amount `json:"sales"`
		Earning Amount `json:"earning"`
	} `json:"revenue"`
	Others struct {
		Reviews  int `json:"reviews"`
		Visitors int `json:"visitors"`
	} `json:"others"`
}

// StoreRef is the vendor stub Dokan embeds in product and order payloads.
type StoreRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name,omitempty"`
	ShopName string `json:"shop_name,omitempty"`
	URL      string `json:"url,omitempty"`
}

// MetaData is a WooCommerce key/value meta entry.
type MetaData struct {
	ID    int64  `json:"id,omitempty"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// vendorMetaKey is the meta key Dokan uses to tag vendor ownership.
const vendorMetaKey = "_dokan_vendor_id"

func vendorFromMeta(meta []MetaData) int64 {
	for _, m := range meta {
		if m.Key != vendorMetaKey {
			continue
		}
		switch v := m.Value.(type) {
		case float64:
			return int64(v)
		case string:
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

// CategoryRef names a product category on a product.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// Image is a product image reference.
type Image struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// Product is a WooCommerce product.
type Product struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Slug             string        `json:"slug,omitempty"`
	Permalink        string        `json:"permalink,omitempty"`
	Type             string        `json:"type,omitempty"`
	Status           string        `json:"status"`
	SKU              string        `json:"sku,omitempty"`
	Price            Amount        `json:"price"`
	RegularPrice     Amount        `json:"regular_price"`
	SalePrice        Amount        `json:"sale_price"`
	OnSale           bool          `json:"on_sale"`
	TotalSales       int           `json:"total_sales"`
	ManageStock      bool          `json:"manage_stock"`
	StockQuantity    *int          `json:"stock_quantity"`
	StockStatus      string        `json:"stock_status,omitempty"`
	Description      string        `json:"description,omitempty"`
	ShortDescription string        `json:"short_description,omitempty"`
	Categories       []CategoryRef `json:"categories,omitempty"`
	Images           []Image       `json:"images,omitempty"`
	AverageRating    Amount        `json:"average_rating"`
	RatingCount      int           `json:"rating_count"`
	DateCreated      Time          `json:"date_created"`
	Store            *StoreRef     `json:"store,omitempty"`
	MetaData         []MetaData    `json:"meta_data,omitempty"`
}

// VendorID returns the owning store, or 0 when the payload does not say.
func (p *Product) VendorID() int64 {
	if p.Store != nil && p.Store.ID != 0 {
		return p.Store.ID
	}
	return vendorFromMeta(p.MetaData)
}

// ProductInput is the writable subset of a product. Nil and empty fields
// are left untouched on update.
type ProductInput struct {
	Name             string        `json:"name,omitempty"`
	Type             string        `json:"type,omitempty"`
	Status           string        `json:"status,omitempty"`
	SKU              string        `json:"sku,omitempty"`
	RegularPrice     string        `json:"regular_price,omitempty"`
	SalePrice        *string       `json:"sale_price,omitempty"`
	Description      string        `json:"description,omitempty"`
	ShortDescription string        `json:"short_description,omitempty"`
	ManageStock      *bool         `json:"manage_stock,omitempty"`
	StockQuantity    *int          `json:"stock_quantity,omitempty"`
	Categories       []CategoryRef `json:"categories,omitempty"`
	Images           []Image       `json:"images,omitempty"`
	MetaData         []MetaData    `json:"meta_data,omitempty"`
}

// ProductQuery filters a product listing.
type ProductQuery struct {
	Status  string
	Search  string
	PerPage int
	Page    int
}

// Billing is the customer contact block on an order.
type Billing struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	City      string `json:"city,omitempty"`
}

// LineItem is one product line on an order.
type LineItem struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Total     Amount `json:"total"`
}

// Order is a WooCommerce order.
type Order struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number,omitempty"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency,omitempty"`
	Total         Amount     `json:"total"`
	CustomerNote  string     `json:"customer_note,omitempty"`
	PaymentMethod string     `json:"payment_method_title,omitempty"`
	DateCreated   Time       `json:"date_created"`
	Billing       Billing    `json:"billing"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	Store         *StoreRef  `json:"store,omitempty"`
	MetaData      []MetaData `json:"meta_data,omitempty"`
}

// VendorID returns the owning store, or 0 when the payload does not say.
func (o *Order) VendorID() int64 {
	if o.Store != nil && o.Store.ID != 0 {
		return o.Store.ID
	}
	return vendorFromMeta(o.MetaData)
}

// OrderStatuses is the closed set of WooCommerce order states.
var OrderStatuses = []string{
	"pending", "processing", "on-hold", "completed", "cancelled", "refunded", "failed",
}

// OrderQuery filters an order listing.
type OrderQuery struct {
	Status  string
	After   time.Time
	PerPage int
	Page    int
}

// Category is a WooCommerce product category.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Parent      int64  `json:"parent"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// CategoryQuery filters a category listing.
type CategoryQuery struct {
	Search    string
	PerPage   int
	HideEmpty bool
}

// EventInput creates an event through The Events Calendar REST API.
// Dates use the "2006-01-02 15:04:05" layout.
type EventInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	AllDay      bool   `json:"all_day,omitempty"`
	Cost        string `json:"cost,omitempty"`
	Website     string `json:"website,omitempty"`
	Venue       *Venue `json:"venue,omitempty"`
	Author      int64  `json:"author,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Venue is an inline venue for a new event.
type Venue struct {
	Venue   string `json:"venue"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
}

// Event is a created calendar event.
type Event struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}
