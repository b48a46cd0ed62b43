package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/memory"
)

const (
	eventLayout          = "2006-01-02 15:04:05"
	defaultEventDuration = 2 * time.Hour
)

var eventInputLayouts = []string{"2006-01-02 15:04", eventLayout, "2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339}

func (d *Dispatcher) listCategories(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	cats, err := d.commerce.ListCategories(ctx, commerce.CategoryQuery{Search: args.String("search"), PerPage: 100})
	if err != nil {
		return nil, err
	}
	type category struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Products int    `json:"products"`
	}
	out := make([]category, 0, len(cats))
	for _, c := range cats {
		out = append(out, category{ID: c.ID, Name: c.Name, Products: c.Count})
	}
	return success(fmt.Sprintf("%d categories", len(out)), out), nil
}

type vendorProfile struct {
	ID         int64   `json:"id"`
	StoreName  string  `json:"store_name"`
	Owner      string  `json:"owner,omitempty"`
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	ShopURL    string  `json:"shop_url,omitempty"`
	City       string  `json:"city,omitempty"`
	Country    string  `json:"country,omitempty"`
	Enabled    bool    `json:"enabled"`
	Rating     float64 `json:"rating"`
	Reviews    int     `json:"reviews"`
	Registered string  `json:"registered,omitempty"`
}

func (d *Dispatcher) getVendorProfile(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	id, given, err := args.Int("store_id")
	if err != nil {
		return nil, err
	}
	own := !given
	if !given {
		storeID, denied := requireStore(cc)
		if denied != nil {
			return denied, nil
		}
		id = storeID
	} else {
		own = cc.Authorized() && cc.StoreID == id
	}

	s, err := d.commerce.GetStore(ctx, id)
	if commerce.IsNotFound(err) {
		return fail("store %d not found", id), nil
	}
	if err != nil {
		return nil, err
	}

	p := vendorProfile{
		ID:        s.ID,
		StoreName: s.StoreName,
		ShopURL:   s.ShopURL,
		City:      s.Address.City,
		Country:   s.Address.Country,
		Enabled:   s.Enabled,
		Rating:    float64(s.Rating.Rating),
		Reviews:   s.Rating.Count,
	}
	if !s.Registered.IsZero() {
		p.Registered = s.Registered.Format("2006-01-02")
	}
	// Contact details only for the vendor's own store.
	if own {
		p.Owner = joinName(s.FirstName, s.LastName)
		p.Email = s.Email
		p.Phone = s.Phone
	}
	return success("", p), nil
}

func (d *Dispatcher) getVendorStats(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}
	st, err := d.commerce.StoreStats(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return success("", map[string]any{
		"products_total":   st.Products.Total,
		"products_live":    st.Products.Live,
		"products_offline": st.Products.Offline,
		"pending_review":   st.Products.PendingReview,
		"orders":           st.Revenue.Orders,
		"sales":            st.Revenue.Sales.String(),
		"earnings":         st.Revenue.Earning.String(),
		"reviews":          st.Others.Reviews,
		"visitors":         st.Others.Visitors,
	}), nil
}

func (d *Dispatcher) createEvent(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}
	title := args.String("title")
	if title == "" {
		return fail("title is required"), nil
	}
	start, err := parseEventTime(args.String("start_date"))
	if err != nil {
		return fail("start_date: %v", err), nil
	}
	end := start.Add(defaultEventDuration)
	if raw := args.String("end_date"); raw != "" {
		if end, err = parseEventTime(raw); err != nil {
			return fail("end_date: %v", err), nil
		}
	}
	if !end.After(start) {
		return fail("end_date must be after start_date"), nil
	}

	in := commerce.EventInput{
		Title:       title,
		Description: args.String("description"),
		StartDate:   start.Format(eventLayout),
		EndDate:     end.Format(eventLayout),
		Cost:        args.String("cost"),
		Author:      storeID,
		Status:      "pending",
	}
	if venue := args.String("venue"); venue != "" {
		in.Venue = &commerce.Venue{Venue: venue, City: args.String("city")}
	}

	ev, err := d.commerce.CreateEvent(ctx, in)
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Event %q submitted for review", ev.Title), ev), nil
}

func parseEventTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("a date and time is required")
	}
	for _, layout := range eventInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not in YYYY-MM-DD HH:MM form", s)
}
