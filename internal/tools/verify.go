package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/memory"
)

const verifyGuidance = "Ask the vendor to double check their store ID (shown in the vendor dashboard) or the email address registered on their store and try again. If it still fails they should contact marketplace support."

// verifyVendor links the identity to a store found by ID, falling back
// to an exact email match across stores.
func (d *Dispatcher) verifyVendor(ctx context.Context, args Args, cc *memory.ConversationContext) (*Result, error) {
	if cc == nil || cc.Identity == "" || cc.ConversationID == "" {
		return fail("verification needs an active conversation"), nil
	}
	storeID, hasID, err := args.Int("store_id")
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(args.String("email"))
	if !hasID && email == "" {
		return &Result{Success: false, Error: "store_id or email is required", Message: verifyGuidance}, nil
	}

	var store *commerce.Store
	if hasID && storeID > 0 {
		s, err := d.commerce.GetStore(ctx, storeID)
		switch {
		case err == nil:
			store = s
		case commerce.IsNotFound(err):
			d.logger.Debug("verification store not found", "store_id", storeID)
		default:
			return nil, err
		}
	}

	if store == nil && email != "" {
		stores, err := d.commerce.SearchStores(ctx, email)
		if err != nil {
			return nil, err
		}
		for i := range stores {
			if strings.EqualFold(strings.TrimSpace(stores[i].Email), email) {
				store = &stores[i]
				break
			}
		}
	}

	if store == nil {
		return &Result{Success: false, Error: "no store matches the details given", Message: verifyGuidance}, nil
	}

	link := &memory.VendorLink{
		Identity:   cc.Identity,
		StoreID:    store.ID,
		StoreName:  store.StoreName,
		Email:      store.Email,
		Verified:   true,
		VerifiedAt: d.now(),
	}
	if err := d.store.UpsertVendorLink(ctx, link); err != nil {
		return nil, fmt.Errorf("save vendor link: %w", err)
	}
	if err := d.store.UpdateLinkage(ctx, cc.ConversationID, store.ID, store.StoreName, true); err != nil {
		return nil, fmt.Errorf("update conversation linkage: %w", err)
	}

	d.logger.Info("vendor verified",
		"identity", cc.Identity,
		"store_id", store.ID,
		"store", store.StoreName,
	)

	return &Result{
		Success:        true,
		Message:        fmt.Sprintf("Verified. This number is now linked to %s (store %d).", store.StoreName, store.ID),
		Data:           map[string]any{"store_id": store.ID, "store_name": store.StoreName},
		ContextChanged: true,
	}, nil
}
