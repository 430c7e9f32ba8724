// Package flow implements the turn orchestration engine of the grocery
// assistant: intent routing, the per-flow workflows, store-fit resolution
// and cart reconciliation.
//
// One turn runs synchronously start-to-finish: the classifier picks a
// flow, the flow mutates the session, and the response step always runs,
// producing the user-facing reply. Failures inside a step set the turn's
// fail flag instead of propagating; retries live in the gateways, never here.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/log"
	"github.com/basketd/basketd/internal/session"
)

// Classifier is the capability interface for language-model calls the
// engine needs. *classify.Client satisfies it; tests substitute fakes.
type Classifier interface {
	Intent(ctx context.Context, req classify.IntentRequest) (classify.IntentResult, error)
	Tags(ctx context.Context, req classify.TagsRequest) ([]string, error)
	SelectProducts(ctx context.Context, req classify.SelectionRequest) ([]session.Product, error)
	PlanCart(ctx context.Context, req classify.CartPlanRequest) (classify.CartPlan, error)
	CartUpdates(ctx context.Context, req classify.UpdatesRequest) ([]classify.ItemQuantity, error)
	Preferences(ctx context.Context, req classify.PreferencesRequest) (classify.PreferencesResult, error)
	Reply(ctx context.Context, req classify.ReplyRequest) (string, error)
}

// CatalogSearch is the capability interface for the product/location
// search service. *catalog.Client satisfies it.
type CatalogSearch interface {
	FindStores(ctx context.Context, lat, lon float64) ([]string, error)
	FindProducts(ctx context.Context, tags, storeIDs []string) ([]session.Product, error)
}

// Registered flow names, as offered to the intent classifier.
const (
	FlowProductSearch      = "ProductSearchFlow"
	FlowAddToCart          = "AddToCartFlow"
	FlowUpdateOrRemoveCart = "UpdateOrRemoveCartFlow"
	FlowPreferences        = "PreferencesFlow"

	// flowRespond is only offered in the secondary, two-choice decision
	// inside the search flow.
	flowRespond = "ResponseFlow"
)

// flowKind is the tagged variant the engine dispatches on.
type flowKind int

const (
	flowUnknown flowKind = iota
	flowSearch
	flowAdd
	flowUpdate
	flowPrefs
)

// errUnknownFlow indicates the classifier named a flow that is not registered.
var errUnknownFlow = errors.New("unknown flow")

// parseFlowName maps a classifier-selected name to a flow variant.
func parseFlowName(name string) (flowKind, error) {
	switch name {
	case FlowProductSearch:
		return flowSearch, nil
	case FlowAddToCart:
		return flowAdd, nil
	case FlowUpdateOrRemoveCart:
		return flowUpdate, nil
	case FlowPreferences:
		return flowPrefs, nil
	default:
		return flowUnknown, fmt.Errorf("%w: %q", errUnknownFlow, name)
	}
}

// DefaultHistoryWindow is how many trailing messages are passed to the
// classifier as conversational context.
const DefaultHistoryWindow = 10

// Config assembles an Engine.
type Config struct {
	Classifier Classifier
	Catalog    CatalogSearch
	Logger     log.Logger

	StoreFit StoreFitConfig // zero value uses DefaultStoreFitConfig

	// ClampQuantity limits quantities to 1 on the full-rebuild path when
	// set. Policy knob; see config.
	ClampQuantity bool

	HistoryWindow int // zero uses DefaultHistoryWindow
}

// Engine routes one chat turn through the flow state machine.
// Safe for concurrent use across sessions; a single session must not be
// processed by two turns at once.
type Engine struct {
	classifier Classifier
	catalog    CatalogSearch
	storeFit   StoreFitConfig
	clampQty   bool
	histWindow int
	logger     log.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog search is required")
	}
	storeFit := cfg.StoreFit
	if storeFit.AskThreshold == 0 && storeFit.FullFitThreshold == 0 {
		storeFit = DefaultStoreFitConfig()
	}
	histWindow := cfg.HistoryWindow
	if histWindow <= 0 {
		histWindow = DefaultHistoryWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		classifier: cfg.Classifier,
		catalog:    cfg.Catalog,
		storeFit:   storeFit,
		clampQty:   cfg.ClampQuantity,
		histWindow: histWindow,
		logger:     logger,
	}, nil
}

// RunTurn processes one user message against the session and returns the
// flow output plus the reply text. The session is mutated in place; the
// caller decides whether to persist it.
func (e *Engine) RunTurn(ctx context.Context, sess *session.ChatSession, userMessage string) (Output, string) {
	ts := &turnState{beforeCart: sess.CartSnapshot()}

	kind := e.classifyIntent(ctx, sess, userMessage, ts)
	if !ts.fail {
		switch kind {
		case flowSearch:
			e.runProductSearch(ctx, sess, userMessage, ts)
		case flowAdd:
			e.runAddToCart(ctx, sess, userMessage, ts)
		case flowUpdate:
			e.runUpdateOrRemove(ctx, sess, userMessage, ts)
		case flowPrefs:
			e.runPreferences(ctx, sess, userMessage, ts)
		}
	}

	reply := e.respond(ctx, sess, userMessage, ts)
	if ts.fail {
		e.logger.Warn("turn failed", "chat_id", sess.ChatID, "error", ts.errMsg)
	}
	return ts.output, reply
}

// classifyIntent asks the model which flow should handle the message.
// An unknown flow name is an unrecoverable routing error for this turn.
func (e *Engine) classifyIntent(ctx context.Context, sess *session.ChatSession, userMessage string, ts *turnState) flowKind {
	choices := []classify.FlowChoice{
		{Name: FlowProductSearch, Description: "Handles product search queries. Call when the user is looking for products, including a new search after earlier suggestions."},
		{Name: FlowUpdateOrRemoveCart, Description: "Handles changing quantities of items already in the cart or removing items from the cart."},
		{Name: FlowAddToCart, Description: "Handles adding previously suggested products to the cart after the user accepted them. Not for searching or editing the cart."},
		{Name: FlowPreferences, Description: "Handles updating long-term user preferences such as allergies or diets. Never changes the cart."},
	}

	res, err := e.classifier.Intent(ctx, classify.IntentRequest{
		UserMessage: userMessage,
		History:     sess.RecentMessages(e.histWindow),
		Choices:     choices,
		Cart:        sess.Order,
		ActiveStore: sess.ActiveStoreID(),
	})
	if err != nil {
		ts.failWith(fmt.Sprintf("intent classification: %v", err), Output{
			Success:    false,
			FailReason: "could not determine intent",
			Summary:    "Failed to understand the request.",
		})
		return flowUnknown
	}

	kind, err := parseFlowName(res.SelectedFlow)
	if err != nil {
		ts.failWith(fmt.Sprintf("intent selected unknown flow %q", res.SelectedFlow), Output{
			Success:    false,
			FailReason: "intent resolved to an unknown flow",
			Summary:    "Failed to route the request.",
		})
		return flowUnknown
	}

	e.logger.Debug("routing turn", "chat_id", sess.ChatID, "flow", res.SelectedFlow, "reason", res.Reason)
	return kind
}
