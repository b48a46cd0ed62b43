package tools

import (
	"context"
	"fmt"

	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/insights"
	"github.com/nugget/vendorbot/internal/marketing"
	"github.com/nugget/vendorbot/internal/memory"
	"github.com/nugget/vendorbot/internal/prompts"
)

func (d *Dispatcher) generateAdCopy(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	if d.ads == nil {
		return fail("ad copy generation is not available"), nil
	}

	req := marketing.AdRequest{
		ProductName: args.String("product_name"),
		Description: args.String("description"),
		Price:       args.String("price"),
		Platform:    args.String("platform"),
		Tone:        args.String("tone"),
	}
	if cc.Authorized() {
		req.StoreName = cc.StoreName
	}

	if args.Has("product_id") {
		p, res, err := d.ownedProduct(ctx, args, cc)
		if res != nil || err != nil {
			return res, err
		}
		req.ProductName = p.Name
		if req.Description == "" {
			desc := p.ShortDescription
			if desc == "" {
				desc = p.Description
			}
			req.Description = commerce.Summary(desc, 400)
		}
		if req.Price == "" && p.Price > 0 {
			req.Price = p.Price.String()
		}
	}
	if req.ProductName == "" {
		return fail("give product_id or product_name"), nil
	}

	ad, err := d.ads.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return success("Ad copy ready. Share it with the vendor as is.", ad), nil
}

func (d *Dispatcher) getBusinessInsights(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	kind := args.String("insight_type")

	if kind == InsightMarketingTips {
		return success("", map[string]any{"tips": insights.MarketingTips(args.String("topic"))}), nil
	}

	switch kind {
	case InsightSalesSummary, InsightRecommendations, InsightPricingAdvice, InsightWeeklyReport:
	default:
		return fail("insight_type must be one of %s, %s, %s, %s, %s",
			InsightSalesSummary, InsightRecommendations, InsightPricingAdvice, InsightMarketingTips, InsightWeeklyReport), nil
	}

	storeID, denied := requireStore(cc)
	if denied != nil {
		return denied, nil
	}

	var data any
	var err error
	switch kind {
	case InsightSalesSummary:
		days, _, perr := args.Int("days")
		if perr != nil {
			return nil, perr
		}
		data, err = d.insights.SalesSummary(ctx, storeID, int(days))
	case InsightRecommendations:
		data, err = d.insights.Recommendations(ctx, storeID)
	case InsightPricingAdvice:
		productID, _, perr := args.Int("product_id")
		if perr != nil {
			return nil, perr
		}
		data, err = d.insights.PricingAdvice(ctx, storeID, productID)
	case InsightWeeklyReport:
		data, err = d.insights.WeeklyReport(ctx, storeID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return success("", data), nil
}

func (d *Dispatcher) getHelp(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	return success(prompts.HelpText(args.String("topic")), nil), nil
}
