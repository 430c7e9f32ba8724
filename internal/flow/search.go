package flow

import (
	"context"
	"fmt"

	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/session"
)

// runProductSearch executes the search flow: tag extraction, catalog
// search, product down-selection, store-fit assessment, and a secondary
// decision whether to continue straight into add-to-cart.
func (e *Engine) runProductSearch(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) {
	tags, err := e.classifier.Tags(ctx, classify.TagsRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Preferences: sess.Preferences,
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("tag extraction: %v", err), Output{
			Success:    false,
			FailReason: "could not extract search tags",
			Summary:    "Product search flow failed.",
		})
		return
	}
	ts.tags = tags

	storeIDs, err := e.catalog.FindStores(ctx, sess.Latitude, sess.Longitude)
	if err != nil {
		ts.failWith(fmt.Sprintf("store lookup: %v", err), Output{
			Success:    false,
			FailReason: "store lookup failed",
			Summary:    "Product search flow failed.",
		})
		return
	}

	products, err := e.catalog.FindProducts(ctx, tags, storeIDs)
	if err != nil {
		ts.failWith(fmt.Sprintf("product search: %v", err), Output{
			Success:    false,
			FailReason: "product search failed",
			Summary:    "Product search flow failed.",
		})
		return
	}

	var selected []session.Product
	if len(products) > 0 {
		selected, err = e.classifier.SelectProducts(ctx, classify.SelectionRequest{
			UserMessage: userMessage,
			History:     sess.RecentMessages(e.histWindow),
			Available:   products,
			Preferences: sess.Preferences,
		})
		if err != nil {
			ts.failWith(fmt.Sprintf("product selection: %v", err), Output{
				Success:    false,
				FailReason: "product selection failed",
				Summary:    "Product search flow failed.",
			})
			return
		}
	}

	if len(selected) == 0 {
		// Not a flow failure; the response step reports it plainly.
		ts.output = Output{
			Success:    false,
			FailReason: "no products found",
			Summary:    "No products matched the search criteria.",
		}
		return
	}

	sess.SuggestedProducts = selected
	sess.MergeStoreCatalog(selected)

	e.assessStoreFit(sess, selected, ts)

	if e.decideNext(ctx, sess, userMessage, ts) {
		e.runAddToCart(ctx, sess, userMessage, ts)
	}
}

// assessStoreFit applies the store-fit policy to the candidate set
// (cart plus suggestions) and shapes the flow output accordingly. It only
// proposes; committing to a store switch happens in the add-to-cart step.
func (e *Engine) assessStoreFit(sess *session.ChatSession, selected []session.Product, ts *turnState) {
	suggestedNames := productNames(selected)

	if len(sess.Order) == 0 {
		// Nothing to reconcile against; the user simply picks a store.
		ts.output = Output{
			Success: true,
			Summary: fmt.Sprintf("Found %d products. The cart is empty, so the user needs to pick a store for them.", len(selected)),
			Details: map[string]any{
				"found_products": suggestedNames,
				"ask_store":      true,
			},
		}
		return
	}

	candidates := make(map[string]struct{}, len(sess.Order)+len(selected))
	for _, p := range sess.Order {
		candidates[p.Name] = struct{}{}
	}
	for _, p := range selected {
		candidates[p.Name] = struct{}{}
	}

	bestStore, ratio := bestStoreFit(candidates, sess.StoresCarts)
	active := sess.ActiveStoreID()
	e.logger.Debug("store fit resolved",
		"chat_id", sess.ChatID, "best_store", bestStore, "ratio", ratio, "active_store", active)

	switch {
	case ratio < e.storeFit.AskThreshold:
		ts.output = Output{
			Success:    false,
			FailReason: "suggested products do not fit well with any known store",
			Summary:    "The suggested products do not fit well with any store; the user should pick a store to proceed.",
			Details: map[string]any{
				"found_products": suggestedNames,
				"ask_store":      true,
			},
		}

	case bestStore == active:
		if ratio > e.storeFit.FullFitThreshold {
			ts.output = Output{
				Success: true,
				Summary: fmt.Sprintf("All suggested products fit the current store %s.", active),
				Details: map[string]any{
					"found_products": suggestedNames,
					"all_fit":        true,
				},
			}
		} else {
			ts.output = Output{
				Success: true,
				Summary: fmt.Sprintf("Most of the suggested products fit the current store %s.", active),
				Details: map[string]any{
					"found_products": suggestedNames,
					"fit_products":   storeCoveredNames(candidates, sess.StoresCarts[active]),
					"all_fit":        false,
				},
			}
		}

	default:
		ts.output = Output{
			Success: true,
			Summary: fmt.Sprintf("The products fit store %s better than the current store %s (match ratio %.2f); propose switching.", bestStore, active, ratio),
			Details: map[string]any{
				"found_products":  suggestedNames,
				"suggested_store": bestStore,
				"suggested_cart":  storeCoveredNames(candidates, sess.StoresCarts[bestStore]),
			},
		}
	}
}

// decideNext runs the narrower two-choice classification inside the search
// flow: continue into add-to-cart, or answer the user now.
func (e *Engine) decideNext(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) bool {
	res, err := e.classifier.Intent(ctx, classify.IntentRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Choices: []classify.FlowChoice{
			{Name: FlowAddToCart, Description: "Add the suggested products to the cart. Call only if the user actively wants them added."},
			{Name: flowRespond, Description: "End the interaction and answer the user; no further action is needed."},
		},
		Cart:        sess.Order,
		ActiveStore: sess.ActiveStoreID(),
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("next-step decision: %v", err), Output{
			Success:    false,
			FailReason: "could not decide next step",
			Summary:    "Product search flow failed.",
		})
		return false
	}

	switch res.SelectedFlow {
	case FlowAddToCart:
		return true
	case flowRespond:
		return false
	default:
		ts.failWith(fmt.Sprintf("next-step decision selected unknown flow %q", res.SelectedFlow), Output{
			Success:    false,
			FailReason: "next step resolved to an unknown flow",
			Summary:    "Product search flow failed.",
		})
		return false
	}
}

func productNames(products []session.Product) []string {
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	return names
}

// storeCoveredNames returns the candidate names present in the given
// store catalog, for response wording.
func storeCoveredNames(candidates map[string]struct{}, catalog []session.Product) []string {
	var covered []string
	for _, p := range catalog {
		if _, ok := candidates[p.Name]; ok {
			covered = append(covered, p.Name)
		}
	}
	return covered
}
