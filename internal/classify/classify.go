// Package classify is the gateway to the language model.
//
// Every call takes structured input, renders a prompt, and requests a
// typed reply through the model's structured-output support; the schema
// is derived from the result type. Results are validated on return:
// invalid or missing fields are a hard failure for that call, except the
// list-of-tags and list-of-updates cases which degrade to empty lists.
//
// Calls are rate limited and retried on transient provider errors; the
// flow engine treats any error from this package as a flow-level failure.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/basketd/basketd/internal/log"
	"github.com/basketd/basketd/internal/session"
)

// Sentinel errors.
var (
	// ErrMalformedOutput indicates the model returned output that does not
	// satisfy the expected schema.
	ErrMalformedOutput = errors.New("malformed classifier output")
)

// MaxSelectedProducts caps how many products one selection may return.
const MaxSelectedProducts = 5

// FlowChoice describes one flow the intent call may pick.
type FlowChoice struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// IntentRequest is the input for an intent classification.
type IntentRequest struct {
	UserMessage string
	History     []session.Message
	Choices     []FlowChoice
	Cart        []session.Product
	ActiveStore string
}

// IntentResult is the model's flow selection. SelectedFlow is guaranteed
// non-empty; whether it names a registered flow is the caller's check.
type IntentResult struct {
	SelectedFlow string `json:"selected_flow"`
	Reason       string `json:"reason,omitempty"`
}

// TagsRequest is the input for search tag extraction.
type TagsRequest struct {
	UserMessage string
	History     []session.Message
	Preferences []string
}

// SelectionRequest asks the model to down-select products from search results.
type SelectionRequest struct {
	UserMessage string
	History     []session.Message
	Available   []session.Product
	Preferences []string
}

// ItemQuantity names a product and a desired quantity.
type ItemQuantity struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CartPlanRequest asks the model for the full desired cart contents and a
// host store, given the current cart, suggestions and store catalogs.
type CartPlanRequest struct {
	UserMessage string
	History     []session.Message
	Cart        []session.Product
	Suggested   []session.Product
	StoresCarts map[string][]session.Product
}

// CartPlan is the model's cart proposal. Items describe the entire desired
// cart, not a delta.
type CartPlan struct {
	ChosenStoreID string         `json:"chosen_store_id"`
	Items         []ItemQuantity `json:"items"`
	Reason        string         `json:"reason,omitempty"`
}

// UpdatesRequest asks the model for quantity changes to existing cart entries.
type UpdatesRequest struct {
	UserMessage string
	History     []session.Message
	Cart        []session.Product
}

// PreferencesRequest asks the model for new long-term user constraints.
type PreferencesRequest struct {
	UserMessage string
	History     []session.Message
	Current     []string
}

// PreferencesResult carries extracted preferences. An empty list is valid.
type PreferencesResult struct {
	NewPreferences []string `json:"new_preferences"`
	Reason         string   `json:"reason,omitempty"`
}

// ReplyRequest asks the model to compose the user-facing reply text.
type ReplyRequest struct {
	UserMessage  string
	History      []session.Message
	Instructions string
}

// Reply shapes for list-valued calls. These exist to derive the output
// schema sent with the request; fields the model may omit carry
// omitempty so the schema does not require them.
type tagList struct {
	Tags []string `json:"tags"`
}

type productPick struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity,omitempty"`
}

type productSelection struct {
	Products []productPick `json:"products"`
	Reason   string        `json:"reason,omitempty"`
}

type updateList struct {
	Updates []ItemQuantity `json:"updates"`
	Reason  string         `json:"reason,omitempty"`
}

// Config configures the classifier client.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    log.Logger
	Retry     RetryConfig   // zero value uses defaults
	Limiter   *rate.Limiter // nil disables proactive rate limiting
}

// Client performs classification and extraction calls against the model.
type Client struct {
	g         *genkit.Genkit
	modelName string
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    log.Logger
}

// New creates a classifier client.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		retry:     retryCfg,
		limiter:   cfg.Limiter,
		logger:    logger,
	}, nil
}

// Intent classifies the user's message into one of the offered flows.
func (c *Client) Intent(ctx context.Context, req IntentRequest) (IntentResult, error) {
	prompt := fmt.Sprintf(`Decide which flow should handle the user's message.
Pick exactly one flow from the list, by name.

Flows: %s
User message: %s
Chat history: %s
Current cart: %s
Current store: %q`,
		mustJSON(req.Choices), req.UserMessage,
		mustJSON(historyContext(req.History)), mustJSON(req.Cart), req.ActiveStore)

	out, err := generateJSON[IntentResult](ctx, c, intentSystem, prompt)
	if err != nil {
		return IntentResult{}, err
	}
	if out.SelectedFlow == "" {
		return IntentResult{}, fmt.Errorf("%w: missing selected_flow", ErrMalformedOutput)
	}
	return out, nil
}

// Tags extracts search tags from the user's message. Malformed or missing
// output degrades to an empty list, never an error.
func (c *Client) Tags(ctx context.Context, req TagsRequest) ([]string, error) {
	prompt := fmt.Sprintf(`Extract 6-8 lowercase one-word search tags for grocery products
from the user's message. Tags represent product names, types, categories or features.
Include singular and plural forms where relevant. Avoid generic tags like "grocery".

User message: %s
Chat history: %s
User preferences: %s`,
		req.UserMessage, mustJSON(historyContext(req.History)), mustJSON(req.Preferences))

	out, err := generateJSON[tagList](ctx, c, searchSystem, prompt)
	if err != nil {
		if errors.Is(err, ErrMalformedOutput) {
			c.logger.Warn("tag extraction returned malformed output, using empty tag list")
			return nil, nil
		}
		return nil, err
	}
	return out.Tags, nil
}

// SelectProducts down-selects up to MaxSelectedProducts best matches from
// the available products. The result is restricted to a single store; an
// empty selection is valid and means nothing fit.
func (c *Client) SelectProducts(ctx context.Context, req SelectionRequest) ([]session.Product, error) {
	prompt := fmt.Sprintf(`Choose 1-5 products from the available products that best match
the user's request. All chosen products must come from the SAME store.
Prefer relevance and freshness over brand. Quantities default to 1 unless the user
asked for more. Only reference ids from the available products.

User message: %s
Available products: %s
User preferences: %s
Chat history: %s`,
		req.UserMessage, mustJSON(req.Available), mustJSON(req.Preferences),
		mustJSON(historyContext(req.History)))

	out, err := generateJSON[productSelection](ctx, c, selectorSystem, prompt)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]session.Product, len(req.Available))
	for _, p := range req.Available {
		byID[p.ID] = p
	}

	var selected []session.Product
	storeID := ""
	for _, item := range out.Products {
		p, ok := byID[item.ID]
		if !ok {
			c.logger.Warn("selection references unknown product, dropping", "id", item.ID)
			continue
		}
		if storeID == "" {
			storeID = p.StoreID
		} else if p.StoreID != storeID {
			c.logger.Warn("selection crosses stores, dropping product",
				"id", p.ID, "store_id", p.StoreID, "selected_store", storeID)
			continue
		}
		if item.Quantity > 0 {
			p.Quantity = item.Quantity
		} else {
			p.Quantity = 1
		}
		selected = append(selected, p)
		if len(selected) == MaxSelectedProducts {
			break
		}
	}
	return selected, nil
}

// PlanCart asks the model for the complete desired cart and its host store.
func (c *Client) PlanCart(ctx context.Context, req CartPlanRequest) (CartPlan, error) {
	prompt := fmt.Sprintf(`Decide the full contents of the user's cart after this message,
and which single store should host it. Consider the current cart, the suggested
products and each store's available products. Do not invent products.
The items list describes the ENTIRE desired cart, not a change set.

User message: %s
Current cart: %s
Suggested products: %s
Store catalogs: %s
Chat history: %s`,
		req.UserMessage, mustJSON(req.Cart), mustJSON(req.Suggested),
		mustJSON(req.StoresCarts), mustJSON(historyContext(req.History)))

	out, err := generateJSON[CartPlan](ctx, c, cartSystem, prompt)
	if err != nil {
		return CartPlan{}, err
	}
	if out.ChosenStoreID == "" || len(out.Items) == 0 {
		return CartPlan{}, fmt.Errorf("%w: cart plan missing store or items", ErrMalformedOutput)
	}
	return out, nil
}

// CartUpdates extracts quantity changes for existing cart entries.
// Malformed or missing output degrades to an empty list ("no changes").
func (c *Client) CartUpdates(ctx context.Context, req UpdatesRequest) ([]ItemQuantity, error) {
	prompt := fmt.Sprintf(`The user wants to change quantities of items already in the cart
or remove items. Quantity 0 removes an item. Only reference items currently in the cart.

User message: %s
Current cart: %s
Chat history: %s`,
		req.UserMessage, mustJSON(req.Cart), mustJSON(historyContext(req.History)))

	out, err := generateJSON[updateList](ctx, c, updaterSystem, prompt)
	if err != nil {
		if errors.Is(err, ErrMalformedOutput) {
			c.logger.Warn("cart update extraction returned malformed output, treating as no changes")
			return nil, nil
		}
		return nil, err
	}
	return out.Updates, nil
}

// Preferences extracts new long-term user constraints.
func (c *Client) Preferences(ctx context.Context, req PreferencesRequest) (PreferencesResult, error) {
	prompt := fmt.Sprintf(`Extract long-term user constraints (allergies, diets, dislikes)
stated in the message. Only factual, durable constraints, in the user's own wording.
Never fabricate or summarize.

User message: %s
Current preferences: %s
Chat history: %s`,
		req.UserMessage, mustJSON(req.Current), mustJSON(historyContext(req.History)))

	out, err := generateJSON[PreferencesResult](ctx, c, preferenceSystem, prompt)
	if err != nil {
		return PreferencesResult{}, err
	}
	return out, nil
}

// Reply composes the final user-facing text for this turn.
func (c *Client) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	prompt := fmt.Sprintf(`%s

User message: %s
Chat history: %s`,
		req.Instructions, req.UserMessage, mustJSON(historyContext(req.History)))

	text, err := c.generateText(ctx, responseSystem, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	return text, nil
}

// generateText runs one model call through the rate limiter and retry loop.
func (c *Client) generateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.executeWithRetry(ctx, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(system),
			ai.WithPrompt(prompt),
		)
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// generateJSON runs a model call with a typed output schema derived from
// T and decodes the structured reply. A reply that cannot be decoded
// against the schema is reported as ErrMalformedOutput.
func generateJSON[T any](ctx context.Context, c *Client, system, prompt string) (T, error) {
	var out T
	resp, err := c.executeWithRetry(ctx, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(system),
			ai.WithPrompt(prompt),
			ai.WithOutputType(out),
		)
	})
	if err != nil {
		if isSchemaViolation(err) {
			return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		return out, err
	}
	if err := resp.Output(&out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return out, nil
}

// isSchemaViolation reports whether err is the model's reply being
// rejected against the requested output schema. Genkit surfaces those
// from Generate, on the same path as transport failures.
func isSchemaViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "schema") || strings.Contains(msg, "valid json")
}

// historyContext flattens messages into role/content pairs for prompts.
func historyContext(messages []session.Message) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}
	return out
}

// mustJSON renders v for prompt embedding. Inputs are our own domain types;
// a marshal failure is a programming error surfaced as a placeholder.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
