package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basketd/basketd/internal/flow"
	"github.com/basketd/basketd/internal/session"
)

type fakeEngine struct {
	out   flow.Output
	reply string
}

func (f *fakeEngine) RunTurn(_ context.Context, sess *session.ChatSession, _ string) (flow.Output, string) {
	return f.out, f.reply
}

type fakeStore struct {
	sessions map[string]*session.ChatSession
	loadErr  error
	saveErr  error
	saved    *session.ChatSession
}

func (f *fakeStore) Load(_ context.Context, chatID, clientID string) (*session.ChatSession, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	sess, ok := f.sessions[chatID+"/"+clientID]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (f *fakeStore) Save(_ context.Context, sess *session.ChatSession) error {
	f.saved = sess
	return f.saveErr
}

func newTestServer(engine TurnRunner, store SessionStore) *httptest.Server {
	h := NewTurnHandler(engine, store, 32.0, 34.7, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postTurn(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/turns", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/turns: %v", err)
	}
	return resp
}

func TestHandleTurnValidation(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, &fakeStore{})
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{nope"},
		{name: "missing chat_id", body: `{"client_id": "c", "message": "hi"}`},
		{name: "missing client_id", body: `{"chat_id": "a", "message": "hi"}`},
		{name: "missing message", body: `{"chat_id": "a", "client_id": "c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postTurn(t, srv.URL, tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleTurnCreatesSessionAndPersists(t *testing.T) {
	store := &fakeStore{}
	engine := &fakeEngine{
		out:   flow.Output{Success: true, Summary: "done"},
		reply: "All set.",
	}
	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postTurn(t, srv.URL, `{"chat_id": "a", "client_id": "c", "message": "hello"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Message != "All set." {
		t.Errorf("message = %q", body.Message)
	}

	if store.saved == nil {
		t.Fatal("session was not saved")
	}
	if store.saved.Latitude != 32.0 || store.saved.Longitude != 34.7 {
		t.Errorf("new session coords = %v/%v, want defaults", store.saved.Latitude, store.saved.Longitude)
	}
	// The turn appends both sides of the exchange.
	if got := len(store.saved.Messages); got != 2 {
		t.Fatalf("persisted messages = %d, want 2", got)
	}
	if store.saved.Messages[0].Role != session.RoleUser || store.saved.Messages[1].Role != session.RoleAssistant {
		t.Errorf("message roles = %q/%q", store.saved.Messages[0].Role, store.saved.Messages[1].Role)
	}
}

func TestHandleTurnReturnsSuggestionsOverCart(t *testing.T) {
	sess := session.New("a", "c", 0, 0)
	sess.Order = []session.Product{{ID: "p0", StoreID: "1", Name: "bread", PriceMinor: 800, Quantity: 1}}
	sess.SuggestedProducts = []session.Product{{ID: "p1", StoreID: "1", Name: "milk", PriceMinor: 550, Quantity: 1}}

	store := &fakeStore{sessions: map[string]*session.ChatSession{"a/c": sess}}
	engine := &fakeEngine{
		out: flow.Output{
			Success: true,
			Summary: "Found 1 product.",
			Details: map[string]any{"found_products": []string{"milk"}},
		},
		reply: "Suggestions below.",
	}
	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postTurn(t, srv.URL, `{"chat_id": "a", "client_id": "c", "message": "find milk"}`)
	defer resp.Body.Close()

	var body TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0].Name != "milk" {
		t.Fatalf("products = %+v, want the suggestion", body.Products)
	}
	// Minor units on the wire, major units in the response.
	if body.Products[0].Price != 5.50 {
		t.Errorf("price = %v, want 5.50", body.Products[0].Price)
	}
	if body.StoreID != "1" {
		t.Errorf("store_id = %q, want %q", body.StoreID, "1")
	}
}

// Suggestions from an earlier search stay on the session until an
// add-to-cart turn consumes them. A later unrelated turn must answer
// with the cart, not the leftover suggestion list.
func TestHandleTurnIgnoresStaleSuggestions(t *testing.T) {
	sess := session.New("a", "c", 0, 0)
	sess.Order = []session.Product{{ID: "p0", StoreID: "1", Name: "bread", PriceMinor: 800, Quantity: 1}}
	sess.SuggestedProducts = []session.Product{{ID: "p1", StoreID: "1", Name: "milk", PriceMinor: 550, Quantity: 1}}

	store := &fakeStore{sessions: map[string]*session.ChatSession{"a/c": sess}}
	engine := &fakeEngine{
		out: flow.Output{
			Success: true,
			Summary: "Stored the user's new preference.",
			Details: map[string]any{"new_preferences": []string{"no nuts"}},
		},
		reply: "Noted, no nuts.",
	}
	srv := newTestServer(engine, store)
	defer srv.Close()

	resp := postTurn(t, srv.URL, `{"chat_id": "a", "client_id": "c", "message": "I am allergic to nuts"}`)
	defer resp.Body.Close()

	var body TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0].Name != "bread" {
		t.Fatalf("products = %+v, want the cart", body.Products)
	}
}

func TestHandleTurnLoadFailure(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("connection lost")}
	srv := newTestServer(&fakeEngine{}, store)
	defer srv.Close()

	resp := postTurn(t, srv.URL, `{"chat_id": "a", "client_id": "c", "message": "hi"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestHandleTurnSaveFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	srv := newTestServer(&fakeEngine{reply: "ok"}, store)
	defer srv.Close()

	resp := postTurn(t, srv.URL, `{"chat_id": "a", "client_id": "c", "message": "hi"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if body.Error != "internal_error" {
		t.Errorf("error = %q", body.Error)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(_ context.Context) error { return p.err }

func TestHealthAndReady(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(fakePinger{}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestReadyFailsWhenDatabaseDown(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(fakePinger{err: errors.New("down")}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}
