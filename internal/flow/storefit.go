package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/basketd/basketd/internal/session"
)

// StoreFitConfig holds the policy thresholds of the store-fit resolver.
type StoreFitConfig struct {
	// AskThreshold is the ratio below which no store is committed and the
	// user is asked to choose. A ratio exactly at the threshold keeps the
	// current-store path.
	AskThreshold float64

	// FullFitThreshold separates "fits entirely" from "fits partially"
	// for response wording. It does not change the store decision.
	FullFitThreshold float64
}

// DefaultStoreFitConfig returns the standard thresholds.
func DefaultStoreFitConfig() StoreFitConfig {
	return StoreFitConfig{AskThreshold: 0.3, FullFitThreshold: 0.99}
}

// bestStoreFit returns the store whose cached catalog covers the largest
// fraction of the candidate product names, together with that ratio.
// Ties resolve to the lexicographically smallest store id so the decision
// is deterministic. With no candidates or no matching store it returns
// ("", 0).
func bestStoreFit(candidates map[string]struct{}, storesCarts map[string][]session.Product) (string, float64) {
	if len(candidates) == 0 {
		return "", 0
	}

	ids := make([]string, 0, len(storesCarts))
	for id := range storesCarts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bestID, bestRatio := "", 0.0
	for _, id := range ids {
		names := make(map[string]struct{}, len(storesCarts[id]))
		for _, p := range storesCarts[id] {
			names[p.Name] = struct{}{}
		}
		matched := 0
		for name := range candidates {
			if _, ok := names[name]; ok {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(candidates))
		if ratio > bestRatio {
			bestID, bestRatio = id, ratio
		}
	}
	return bestID, bestRatio
}

// relevantStores returns, sorted, the stores whose cached catalog contains
// at least one product (by identity) from the cart or the current
// suggestions. Marking is monotone: once a store matches it stays marked.
func relevantStores(sess *session.ChatSession) []string {
	candidates := make([]session.Product, 0, len(sess.Order)+len(sess.SuggestedProducts))
	candidates = append(candidates, sess.Order...)
	candidates = append(candidates, sess.SuggestedProducts...)

	marked := make(map[string]bool, len(sess.StoresCarts))
	for _, cand := range candidates {
		for storeID, cached := range sess.StoresCarts {
			if marked[storeID] {
				continue
			}
			for _, p := range cached {
				if p.ID == cand.ID {
					marked[storeID] = true
					break
				}
			}
		}
	}

	ids := make([]string, 0, len(marked))
	for id := range marked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizeStoreID resolves a store id coming from the model, which
// sometimes arrives with a literal "store" prefix. The stripped form is
// tried first, then the raw value; an id matching neither is an error.
func normalizeStoreID(raw string, storesCarts map[string][]session.Product) (string, error) {
	stripped := strings.TrimSpace(strings.ReplaceAll(raw, "store", ""))
	if _, ok := storesCarts[stripped]; ok {
		return stripped, nil
	}
	trimmed := strings.TrimSpace(raw)
	if _, ok := storesCarts[trimmed]; ok {
		return trimmed, nil
	}
	return "", fmt.Errorf("unknown store id %q", raw)
}
