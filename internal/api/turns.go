package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/basketd/basketd/internal/flow"
	"github.com/basketd/basketd/internal/log"
	"github.com/basketd/basketd/internal/session"
)

// TurnRunner processes one chat turn. *flow.Engine satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, sess *session.ChatSession, userMessage string) (flow.Output, string)
}

// SessionStore loads and saves chat sessions. *session.Store satisfies it.
type SessionStore interface {
	Load(ctx context.Context, chatID, clientID string) (*session.ChatSession, error)
	Save(ctx context.Context, sess *session.ChatSession) error
}

// TurnHandler handles the turn entry point.
type TurnHandler struct {
	engine     TurnRunner
	store      SessionStore
	defaultLat float64
	defaultLon float64
	logger     log.Logger
}

// NewTurnHandler creates a turn handler. New sessions start at the given
// default coordinates until the client supplies a location.
func NewTurnHandler(engine TurnRunner, store SessionStore, defaultLat, defaultLon float64, logger log.Logger) *TurnHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &TurnHandler{
		engine:     engine,
		store:      store,
		defaultLat: defaultLat,
		defaultLon: defaultLon,
		logger:     logger,
	}
}

// RegisterRoutes registers turn routes on the mux.
func (h *TurnHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/turns", h.handleTurn)
}

// TurnRequest is the body of POST /api/turns.
type TurnRequest struct {
	ChatID   string `json:"chat_id"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// ProductView is a product as shown to the client: no internal ids, price
// in major currency units.
type ProductView struct {
	Name     string  `json:"name"`
	Brand    string  `json:"brand,omitempty"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// TurnResponse is the reply of POST /api/turns.
type TurnResponse struct {
	Message  string        `json:"message"`
	Products []ProductView `json:"products"`
	StoreID  string        `json:"store_id"`
}

// handleTurn validates the request, loads or creates the session, runs
// the flow engine and persists the updated session.
//
// Input validation happens before any flow runs; a persistence failure
// after a successful flow surfaces as an internal error and leaves the
// stored session untouched for this turn.
func (h *TurnHandler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.ChatID == "" || req.ClientID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chat_id, client_id and message are required")
		return
	}

	ctx := r.Context()
	sess, err := h.store.Load(ctx, req.ChatID, req.ClientID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(req.ChatID, req.ClientID, h.defaultLat, h.defaultLon)
	case err != nil:
		h.logger.Error("loading session", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load chat session")
		return
	}

	out, reply := h.engine.RunTurn(ctx, sess, req.Message)
	sess.AddMessage(session.RoleUser, req.Message)
	sess.AddMessage(session.RoleAssistant, reply)

	if err := h.store.Save(ctx, sess); err != nil {
		h.logger.Error("saving session", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not persist chat session")
		return
	}

	h.logger.Info("turn processed",
		"chat_id", req.ChatID, "success", out.Success, "cart_items", len(sess.Order))

	writeJSON(w, http.StatusOK, TurnResponse{
		Message:  reply,
		Products: productViews(turnProducts(sess, out)),
		StoreID:  sess.ActiveStoreID(),
	})
}

// turnProducts picks the products to surface for this turn: suggestions
// when this turn's flow produced any, otherwise the cart itself.
// Suggestions linger on the session until add-to-cart consumes them, so
// an unrelated later turn must not resurface them.
func turnProducts(sess *session.ChatSession, out flow.Output) []session.Product {
	if _, found := out.Details["found_products"]; found && len(sess.SuggestedProducts) > 0 {
		return sess.SuggestedProducts
	}
	return sess.Order
}

func productViews(products []session.Product) []ProductView {
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, ProductView{
			Name:     p.Name,
			Brand:    p.Brand,
			Category: p.Category,
			Price:    float64(p.PriceMinor) / 100,
			Quantity: p.Quantity,
		})
	}
	return views
}
