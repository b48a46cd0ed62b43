package tools

import (
	"context"
	"fmt"
	"slices"

	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/memory"
)

type orderSummary struct {
	ID       int64  `json:"id"`
	Number   string `json:"number,omitempty"`
	Status   string `json:"status"`
	Total    string `json:"total"`
	Currency string `json:"currency,omitempty"`
	Created  string `json:"created,omitempty"`
	Customer string `json:"customer,omitempty"`
	Items    int    `json:"items"`
}

func summarizeOrder(o *commerce.Order) orderSummary {
	s := orderSummary{
		ID:       o.ID,
		Number:   o.Number,
		Status:   o.Status,
		Total:    o.Total.String(),
		Currency: o.Currency,
		Customer: joinName(o.Billing.FirstName, o.Billing.LastName),
	}
	if !o.DateCreated.IsZero() {
		s.Created = o.DateCreated.Format("2006-01-02 15:04")
	}
	for _, li := range o.LineItems {
		s.Items += li.Quantity
	}
	return s
}

type orderLine struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

type orderDetail struct {
	orderSummary
	Lines   []orderLine `json:"lines"`
	City    string      `json:"city,omitempty"`
	Payment string      `json:"payment,omitempty"`
	Note    string      `json:"customer_note,omitempty"`
}

func detailOrder(o *commerce.Order) orderDetail {
	d := orderDetail{
		orderSummary: summarizeOrder(o),
		City:         o.Billing.City,
		Payment:      o.PaymentMethod,
		Note:         o.CustomerNote,
	}
	for _, li := range o.LineItems {
		d.Lines = append(d.Lines, orderLine{Product: li.Name, Quantity: li.Quantity, Total: li.Total.String()})
	}
	return d
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

func (d *Dispatcher) ownedOrder(ctx context.Context, args Args, cc *memory.ConversationContext) (*commerce.Order, *Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return nil, denied, nil
	}
	id, err := args.RequireInt("order_id")
	if err != nil {
		return nil, nil, err
	}
	o, err := d.commerce.GetOrder(ctx, id)
	if commerce.IsNotFound(err) {
		return nil, fail("order %d not found", id), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if o.VendorID() != storeID {
		return nil, fail("order %d does not belong to your store", id), nil
	}
	return o, nil, nil
}

func (d *Dispatcher) listOrders(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}
	status := args.String("status")
	if status != "" && !slices.Contains(commerce.OrderStatuses, status) {
		return fail("status must be one of %v", commerce.OrderStatuses), nil
	}
	limit, _, err := args.Int("limit")
	if err != nil {
		return nil, err
	}

	orders, err := d.commerce.ListStoreOrders(ctx, storeID, commerce.OrderQuery{Status: status, PerPage: int(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]orderSummary, 0, len(orders))
	for i := range orders {
		out = append(out, summarizeOrder(&orders[i]))
	}
	return success(fmt.Sprintf("%d order(s)", len(out)), out), nil
}

func (d *Dispatcher) getOrder(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	o, res, err := d.ownedOrder(ctx, args, cc)
	if res != nil || err != nil {
		return res, err
	}
	return success("", detailOrder(o)), nil
}

func (d *Dispatcher) updateOrderStatus(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	status := args.String("status")
	if !slices.Contains(commerce.OrderStatuses, status) {
		return fail("status must be one of %v", commerce.OrderStatuses), nil
	}
	o, res, err := d.ownedOrder(ctx, args, cc)
	if res != nil || err != nil {
		return res, err
	}
	if o.Status == status {
		return success(fmt.Sprintf("Order %d is already %s", o.ID, status), summarizeOrder(o)), nil
	}

	updated, err := d.commerce.UpdateOrderStatus(ctx, o.ID, status)
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Order %d moved from %s to %s", updated.ID, o.Status, updated.Status), summarizeOrder(updated)), nil
}
