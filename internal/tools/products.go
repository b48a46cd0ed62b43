package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/memory"
)

// productSummary is the compact product shape returned in listings.
type productSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	OnSale      bool   `json:"on_sale,omitempty"`
	Stock       *int   `json:"stock,omitempty"`
	StockStatus string `json:"stock_status,omitempty"`
	TotalSales  int    `json:"total_sales"`
}

func summarizeProduct(p *commerce.Product) productSummary {
	return productSummary{
		ID:          p.ID,
		Name:        p.Name,
		Status:      p.Status,
		Price:       p.Price.String(),
		OnSale:      p.OnSale,
		Stock:       p.StockQuantity,
		StockStatus: p.StockStatus,
		TotalSales:  p.TotalSales,
	}
}

// productDetail is the shape returned for a single product.
type productDetail struct {
	productSummary
	RegularPrice string   `json:"regular_price"`
	SalePrice    string   `json:"sale_price,omitempty"`
	SKU          string   `json:"sku,omitempty"`
	Description  string   `json:"description,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Images       int      `json:"images"`
	Link         string   `json:"link,omitempty"`
}

func detailProduct(p *commerce.Product) productDetail {
	d := productDetail{
		productSummary: summarizeProduct(p),
		RegularPrice:   p.RegularPrice.String(),
		SKU:            p.SKU,
		Description:    commerce.Summary(p.Description, 500),
		Images:         len(p.Images),
		Link:           p.Permalink,
	}
	if p.SalePrice > 0 {
		d.SalePrice = p.SalePrice.String()
	}
	for _, c := range p.Categories {
		d.Categories = append(d.Categories, c.Name)
	}
	return d
}

// ownedProduct fetches a product and checks it belongs to the linked
// store. The returned Result is non-nil on any failure.
func (d *Dispatcher) ownedProduct(ctx context.Context, args Args, cc *memory.ConversationContext) (*commerce.Product, *Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return nil, denied, nil
	}
	id, err := args.RequireInt("product_id")
	if err != nil {
		return nil, nil, err
	}
	p, err := d.commerce.GetProduct(ctx, id)
	if commerce.IsNotFound(err) {
		return nil, fail("product %d not found", id), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if p.VendorID() != storeID {
		return nil, fail("product %d does not belong to your store", id), nil
	}
	return p, nil, nil
}

func (d *Dispatcher) listProducts(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}
	status := args.String("status")
	if status != "" && !slices.Contains(productStatuses, status) {
		return fail("status must be one of %v", productStatuses), nil
	}
	limit, _, err := args.Int("limit")
	if err != nil {
		return nil, err
	}

	products, err := d.commerce.ListStoreProducts(ctx, storeID, commerce.ProductQuery{
		Status:  status,
		Search:  args.String("search"),
		PerPage: int(limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]productSummary, 0, len(products))
	for i := range products {
		out = append(out, summarizeProduct(&products[i]))
	}
	return success(fmt.Sprintf("%d product(s)", len(out)), out), nil
}

func (d *Dispatcher) getProduct(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	p, res, err := d.ownedProduct(ctx, args, cc)
	if res != nil || err != nil {
		return res, err
	}
	return success("", detailProduct(p)), nil
}

func (d *Dispatcher) createProduct(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}

	name := args.String("name")
	if name == "" {
		return fail("name is required"), nil
	}
	price, has, err := args.Price("regular_price")
	if err != nil {
		return nil, err
	}
	if !has {
		return fail("regular_price is required"), nil
	}

	status := args.String("status")
	if status == "" {
		status = "draft"
	}
	if !slices.Contains(productStatuses, status) {
		return fail("status must be one of %v", productStatuses), nil
	}

	in := commerce.ProductInput{
		Name:             name,
		Type:             "simple",
		Status:           status,
		RegularPrice:     price,
		Description:      args.String("description"),
		ShortDescription: args.String("short_description"),
		SKU:              args.String("sku"),
		MetaData:         []commerce.MetaData{{Key: "_dokan_vendor_id", Value: storeID}},
	}
	if sale, has, err := args.Price("sale_price"); err != nil {
		return nil, err
	} else if has {
		in.SalePrice = &sale
	}
	if err := applyStock(args, &in); err != nil {
		return nil, err
	}
	cats, err := args.IntList("category_ids")
	if err != nil {
		return nil, err
	}
	for _, id := range cats {
		in.Categories = append(in.Categories, commerce.CategoryRef{ID: id})
	}
	if img := args.String("image_url"); img != "" {
		in.Images = []commerce.Image{{Src: img}}
	}

	p, err := d.commerce.CreateProduct(ctx, in)
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Created %q as %s", p.Name, p.Status), detailProduct(p)), nil
}

func (d *Dispatcher) updateProduct(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	p, res, err := d.ownedProduct(ctx, args, cc)
	if res != nil || err != nil {
		return res, err
	}

	var in commerce.ProductInput
	changed := false
	if name := args.String("name"); name != "" {
		in.Name = name
		changed = true
	}
	if price, has, err := args.Price("regular_price"); err != nil {
		return nil, err
	} else if has {
		in.RegularPrice = price
		changed = true
	}
	if sale, has, err := args.Price("sale_price"); err != nil {
		return nil, err
	} else if has {
		if sale == "0.00" {
			sale = ""
		}
		in.SalePrice = &sale
		changed = true
	}
	if desc := args.String("description"); desc != "" {
		in.Description = desc
		changed = true
	}
	if status := args.String("status"); status != "" {
		if !slices.Contains(productStatuses, status) {
			return fail("status must be one of %v", productStatuses), nil
		}
		in.Status = status
		changed = true
	}
	if args.Has("stock_quantity") {
		if err := applyStock(args, &in); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return fail("no fields to update were given"), nil
	}

	updated, err := d.commerce.UpdateProduct(ctx, p.ID, in)
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Updated %q", updated.Name), detailProduct(updated)), nil
}

func (d *Dispatcher) deleteProduct(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	p, res, err := d.ownedProduct(ctx, args, cc)
	if res != nil || err != nil {
		return res, err
	}
	force := args.Bool("force")
	if _, err := d.commerce.DeleteProduct(ctx, p.ID, force); err != nil {
		return nil, err
	}
	if force {
		return success(fmt.Sprintf("Deleted %q permanently", p.Name), nil), nil
	}
	return success(fmt.Sprintf("Moved %q to the trash", p.Name), nil), nil
}

func applyStock(args Args, in *commerce.ProductInput) error {
	qty, has, err := args.Int("stock_quantity")
	if err != nil || !has {
		return err
	}
	if qty < 0 {
		return errors.New("stock_quantity cannot be negative")
	}
	n := int(qty)
	manage := true
	in.StockQuantity = &n
	in.ManageStock = &manage
	return nil
}
