package flow

import (
	"context"
	"fmt"

	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/session"
)

// runAddToCart asks the model for the full desired cart plus a host store,
// then rebuilds the cart from that store's cached catalog. Suggestions are
// consumed by this step whether it succeeds or not.
func (e *Engine) runAddToCart(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) {
	if ts.fail {
		return
	}
	defer func() { sess.SuggestedProducts = nil }()

	stores := make(map[string][]session.Product)
	for _, id := range relevantStores(sess) {
		stores[id] = sess.StoresCarts[id]
	}

	plan, err := e.classifier.PlanCart(ctx, classify.CartPlanRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Cart:        sess.Order,
		Suggested:   sess.SuggestedProducts,
		StoresCarts: stores,
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("cart planning: %v", err), Output{
			Success:    false,
			FailReason: "cart planning failed",
			Summary:    "Failed to add products to the cart.",
		})
		return
	}

	storeID, err := normalizeStoreID(plan.ChosenStoreID, sess.StoresCarts)
	if err != nil {
		ts.failWith(fmt.Sprintf("cart planning: %v", err), Output{
			Success:    false,
			FailReason: "chosen store is unknown",
			Summary:    "Failed to add products to the cart.",
		})
		return
	}

	rebuildCart(sess, storeID, plan.Items, e.clampQty)
	e.logger.Debug("cart rebuilt",
		"chat_id", sess.ChatID, "store_id", storeID, "items", len(sess.Order))

	ts.output = Output{
		Success: true,
		Summary: "Updated the cart with the selected products.",
		Details: map[string]any{
			"updated_cart": cartContext(sess.Order),
			"store_id":     storeID,
			"reason":       plan.Reason,
		},
	}
}

// runUpdateOrRemove applies quantity deltas to existing cart entries.
// This path never adds products.
func (e *Engine) runUpdateOrRemove(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) {
	if len(sess.Order) == 0 {
		ts.output = Output{
			Success:    false,
			FailReason: "cart is empty",
			Summary:    "The cart is currently empty; there is nothing to update or remove.",
		}
		return
	}

	updates, err := e.classifier.CartUpdates(ctx, classify.UpdatesRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Cart:        sess.Order,
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("cart update extraction: %v", err), Output{
			Success:    false,
			FailReason: "cart update extraction failed",
			Summary:    "Failed to update or remove items from the cart.",
		})
		return
	}

	if len(updates) == 0 {
		ts.output = Output{
			Success: true,
			Summary: "No changes were made to the cart.",
			Details: map[string]any{"updated_cart": cartContext(sess.Order)},
		}
		return
	}

	notFound := applyCartDelta(sess, updates)
	details := map[string]any{"updated_cart": cartContext(sess.Order)}
	if len(notFound) > 0 {
		details["not_found"] = notFound
	}
	ts.output = Output{
		Success: true,
		Summary: "Updated the cart as requested.",
		Details: details,
	}
}

// rebuildCart replaces the cart with the wanted items, sourced exclusively
// from the chosen store's cached catalog. Names absent from the catalog
// are dropped, never fabricated, and only positive quantities survive, so
// the single-store invariant holds by construction. Idempotent for
// identical input.
func rebuildCart(sess *session.ChatSession, storeID string, wanted []classify.ItemQuantity, clamp bool) {
	quantities := make(map[string]int, len(wanted))
	for _, item := range wanted {
		quantities[item.Name] = item.Quantity
	}

	var cart []session.Product
	for _, p := range sess.StoresCarts[storeID] {
		qty, ok := quantities[p.Name]
		if !ok || qty <= 0 {
			continue
		}
		if clamp && qty > 1 {
			qty = 1
		}
		p.Quantity = qty
		cart = append(cart, p)
	}
	sess.Order = cart
}

// applyCartDelta overwrites or removes existing cart entries by name.
// Quantity 0 removes; unmatched names are returned as not found and left
// untouched. Idempotent for identical input.
func applyCartDelta(sess *session.ChatSession, updates []classify.ItemQuantity) (notFound []string) {
	for _, u := range updates {
		idx := -1
		for i := range sess.Order {
			if sess.Order[i].Name == u.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			notFound = append(notFound, u.Name)
			continue
		}
		if u.Quantity <= 0 {
			sess.Order = append(sess.Order[:idx], sess.Order[idx+1:]...)
		} else {
			sess.Order[idx].Quantity = u.Quantity
		}
	}
	return notFound
}

// cartContext renders cart entries for response prompts, without internal ids.
func cartContext(cart []session.Product) []map[string]any {
	out := make([]map[string]any, 0, len(cart))
	for _, p := range cart {
		out = append(out, map[string]any{
			"name":     p.Name,
			"brand":    p.Brand,
			"quantity": p.Quantity,
			"store_id": p.StoreID,
		})
	}
	return out
}
