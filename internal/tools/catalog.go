// Package tools declares the capabilities offered to the model and
// executes the calls it makes against the commerce backend.
package tools

import (
	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/prompts"
)

// CatalogVersion names the current revision of the tool catalog. Bump it
// on any change to names or parameter schemas; conversations in flight
// may still reference the previous set.
const CatalogVersion = "2026.05.1"

// Tool groups.
const (
	GroupProduct   = "product"
	GroupOrder     = "order"
	GroupCategory  = "category"
	GroupVendor    = "vendor"
	GroupEvent     = "event"
	GroupAccount   = "account"
	GroupMarketing = "marketing"
	GroupInsights  = "insights"
	GroupHelp      = "help"
)

// Insight types accepted by get_business_insights.
const (
	InsightSalesSummary    = "sales_summary"
	InsightRecommendations = "recommendations"
	InsightPricingAdvice   = "pricing_advice"
	InsightMarketingTips   = "marketing_tips"
	InsightWeeklyReport    = "weekly_report"
)

// Definition declares one tool.
type Definition struct {
	Name        string
	Group       string
	Description string
	Parameters  map[string]any
	// Mutating tools change store data and always need a verified link.
	Mutating bool
}

var productStatuses = []string{"draft", "pending", "private", "publish"}

var definitions = []Definition{
	{
		Name:        "list_products",
		Group:       GroupProduct,
		Description: "List products in the vendor's store. Requires a verified account; uses the linked store. Optional filters by status and search text.",
		Parameters: object(map[string]any{
			"status": enum("Only products with this status", productStatuses...),
			"search": str("Text to search for in product names"),
			"limit":  integer("Maximum number of products to return (default 10, max 100)"),
		}),
	},
	{
		Name:        "get_product",
		Group:       GroupProduct,
		Description: "Show full details of one product. Requires a verified account; the product must belong to the linked store.",
		Parameters: object(map[string]any{
			"product_id": integer("The product ID"),
		}, "product_id"),
	},
	{
		Name:        "create_product",
		Group:       GroupProduct,
		Mutating:    true,
		Description: "Create a new product in the linked store. Requires a verified account. The product is saved as a draft unless status is given.",
		Parameters: object(map[string]any{
			"name":              str("Product name"),
			"regular_price":     number("Regular price"),
			"sale_price":        number("Discounted price, if on sale"),
			"description":       str("Full product description"),
			"short_description": str("One line summary"),
			"sku":               str("Stock keeping unit"),
			"stock_quantity":    integer("Units in stock. Setting this turns on stock management"),
			"category_ids":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "Category IDs from list_categories"},
			"image_url":         str("Public URL of a product photo"),
			"status":            enum("Initial status (default draft)", productStatuses...),
		}, "name", "regular_price"),
	},
	{
		Name:        "update_product",
		Group:       GroupProduct,
		Mutating:    true,
		Description: "Change fields of an existing product. Requires a verified account; the product must belong to the linked store. Only the given fields change.",
		Parameters: object(map[string]any{
			"product_id":     integer("The product ID"),
			"name":           str("New name"),
			"regular_price":  number("New regular price"),
			"sale_price":     number("New sale price. Use 0 to end a sale"),
			"description":    str("New description"),
			"stock_quantity": integer("New stock level"),
			"status":         enum("New status; publish makes it visible in the shop", productStatuses...),
		}, "product_id"),
	},
	{
		Name:        "delete_product",
		Group:       GroupProduct,
		Mutating:    true,
		Description: "Delete a product. Requires a verified account; the product must belong to the linked store. Confirm with the vendor first. Moves to trash unless force is true.",
		Parameters: object(map[string]any{
			"product_id": integer("The product ID"),
			"force":      boolean("Delete permanently instead of moving to trash"),
		}, "product_id"),
	},
	{
		Name:        "list_orders",
		Group:       GroupOrder,
		Description: "List orders for the vendor's store, newest first. Requires a verified account; uses the linked store.",
		Parameters: object(map[string]any{
			"status": enum("Only orders with this status", commerce.OrderStatuses...),
			"limit":  integer("Maximum number of orders to return (default 10, max 100)"),
		}),
	},
	{
		Name:        "get_order",
		Group:       GroupOrder,
		Description: "Show full details of one order. Requires a verified account; the order must belong to the linked store.",
		Parameters: object(map[string]any{
			"order_id": integer("The order ID"),
		}, "order_id"),
	},
	{
		Name:        "update_order_status",
		Group:       GroupOrder,
		Mutating:    true,
		Description: "Move an order to a new status. Requires a verified account; the order must belong to the linked store. Confirm cancellations and refunds with the vendor first.",
		Parameters: object(map[string]any{
			"order_id": integer("The order ID"),
			"status":   enum("The new status", commerce.OrderStatuses...),
		}, "order_id", "status"),
	},
	{
		Name:        "list_categories",
		Group:       GroupCategory,
		Description: "List the marketplace product categories. Does not require verification.",
		Parameters: object(map[string]any{
			"search": str("Text to search for in category names"),
		}),
	},
	{
		Name:        "get_vendor_profile",
		Group:       GroupVendor,
		Description: "Show a store's public profile. Uses the linked store, which requires a verified account, unless store_id is given.",
		Parameters: object(map[string]any{
			"store_id": integer("Store to look up instead of the linked one"),
		}),
	},
	{
		Name:        "get_vendor_stats",
		Group:       GroupVendor,
		Description: "Show dashboard numbers for the linked store: product counts, orders, sales and earnings. Requires a verified account.",
		Parameters:  object(map[string]any{}),
	},
	{
		Name:        "create_event",
		Group:       GroupEvent,
		Mutating:    true,
		Description: "Create a marketplace calendar event for the vendor. Requires a verified account. Dates use YYYY-MM-DD HH:MM.",
		Parameters: object(map[string]any{
			"title":       str("Event title"),
			"description": str("What the event is about"),
			"start_date":  str("Start, e.g. 2026-05-02 10:00"),
			"end_date":    str("End, e.g. 2026-05-02 16:00. Defaults to two hours after start"),
			"venue":       str("Venue name"),
			"city":        str("Venue city"),
			"cost":        str("Entry cost, e.g. Free or 5"),
		}, "title", "start_date"),
	},
	{
		Name:        "verify_vendor",
		Group:       GroupAccount,
		Description: "Link this WhatsApp number to a store. Does not require verification. Give the store ID, the store's registered email, or both.",
		Parameters: object(map[string]any{
			"store_id": integer("The vendor's store ID"),
			"email":    str("The email address registered on the store"),
		}),
	},
	{
		Name:        "generate_ad_copy",
		Group:       GroupMarketing,
		Description: "Write ad copy for a product. Does not require verification when product_name is given; looking up product_id requires a verified account.",
		Parameters: object(map[string]any{
			"product_id":   integer("Product to advertise from the linked store"),
			"product_name": str("Product name, when not using product_id"),
			"description":  str("What makes the product special"),
			"price":        str("Price to mention"),
			"platform":     enum("Where the ad will be posted", prompts.AdPlatforms...),
			"tone":         enum("Voice of the ad", prompts.AdTones...),
		}),
	},
	{
		Name:        "get_business_insights",
		Group:       GroupInsights,
		Description: "Analyze the vendor's business. Every insight type except marketing_tips requires a verified account.",
		Parameters: object(map[string]any{
			"insight_type": enum("Which analysis to run",
				InsightSalesSummary, InsightRecommendations, InsightPricingAdvice, InsightMarketingTips, InsightWeeklyReport),
			"days":       integer("Period for sales_summary in days (default 30)"),
			"product_id": integer("Product for pricing_advice; omit for the whole store"),
			"topic":      str("Focus for marketing_tips, e.g. instagram or photos"),
		}, "insight_type"),
	},
	{
		Name:        "get_help",
		Group:       GroupHelp,
		Description: "Get help text on how to use this assistant. Does not require verification.",
		Parameters: object(map[string]any{
			"topic": enum("Help topic", prompts.HelpTopics()...),
		}),
	},
}

// Definitions returns a copy of the catalog declarations.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Catalog returns the tool list in the function format the model
// client expects.
func Catalog() []map[string]any {
	result := make([]map[string]any, 0, len(definitions))
	for _, d := range definitions {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return result
}

// Lookup returns the declaration for name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
