package flow

import (
	"reflect"
	"testing"

	"github.com/basketd/basketd/internal/session"
)

func catalogOf(storeID string, names ...string) []session.Product {
	products := make([]session.Product, 0, len(names))
	for _, name := range names {
		products = append(products, session.Product{
			ID:      storeID + "-" + name,
			StoreID: storeID,
			Name:    name,
		})
	}
	return products
}

func candidateSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func TestBestStoreFit(t *testing.T) {
	tests := []struct {
		name        string
		candidates  map[string]struct{}
		storesCarts map[string][]session.Product
		wantStore   string
		wantRatio   float64
	}{
		{
			name:       "partial match",
			candidates: candidateSet("milk", "eggs"),
			storesCarts: map[string][]session.Product{
				"1": catalogOf("1", "bread", "milk"),
			},
			wantStore: "1",
			wantRatio: 0.5,
		},
		{
			name:       "full match beats partial",
			candidates: candidateSet("milk", "eggs"),
			storesCarts: map[string][]session.Product{
				"1": catalogOf("1", "milk"),
				"2": catalogOf("2", "milk", "eggs", "butter"),
			},
			wantStore: "2",
			wantRatio: 1.0,
		},
		{
			name:       "tie resolves to smallest store id",
			candidates: candidateSet("milk", "eggs"),
			storesCarts: map[string][]session.Product{
				"9": catalogOf("9", "milk"),
				"2": catalogOf("2", "eggs"),
			},
			wantStore: "2",
			wantRatio: 0.5,
		},
		{
			name:        "no candidates",
			candidates:  candidateSet(),
			storesCarts: map[string][]session.Product{"1": catalogOf("1", "milk")},
			wantStore:   "",
			wantRatio:   0,
		},
		{
			name:        "no matching store",
			candidates:  candidateSet("caviar"),
			storesCarts: map[string][]session.Product{"1": catalogOf("1", "milk")},
			wantStore:   "",
			wantRatio:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, ratio := bestStoreFit(tt.candidates, tt.storesCarts)
			if store != tt.wantStore {
				t.Errorf("bestStoreFit() store = %q, want %q", store, tt.wantStore)
			}
			if ratio != tt.wantRatio {
				t.Errorf("bestStoreFit() ratio = %v, want %v", ratio, tt.wantRatio)
			}
		})
	}
}

func TestRelevantStores(t *testing.T) {
	sess := session.New("chat", "client", 0, 0)
	sess.StoresCarts = map[string][]session.Product{
		"1": {{ID: "p1", StoreID: "1", Name: "milk"}},
		"2": {{ID: "p2", StoreID: "2", Name: "eggs"}},
		"3": {{ID: "p9", StoreID: "3", Name: "soap"}},
	}
	sess.Order = []session.Product{{ID: "p1", StoreID: "1", Name: "milk"}}
	sess.SuggestedProducts = []session.Product{{ID: "p2", StoreID: "2", Name: "eggs"}}

	got := relevantStores(sess)
	want := []string{"1", "2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("relevantStores() = %v, want %v", got, want)
	}
}

// Adding more candidate products can only grow the relevant-store set.
func TestRelevantStoresMonotone(t *testing.T) {
	sess := session.New("chat", "client", 0, 0)
	sess.StoresCarts = map[string][]session.Product{
		"1": {{ID: "p1", StoreID: "1", Name: "milk"}},
		"2": {{ID: "p2", StoreID: "2", Name: "eggs"}},
	}
	sess.Order = []session.Product{{ID: "p1", StoreID: "1", Name: "milk"}}

	before := relevantStores(sess)
	sess.SuggestedProducts = []session.Product{{ID: "p2", StoreID: "2", Name: "eggs"}}
	after := relevantStores(sess)

	marked := make(map[string]bool, len(after))
	for _, id := range after {
		marked[id] = true
	}
	for _, id := range before {
		if !marked[id] {
			t.Errorf("store %q dropped out of the relevant set after adding candidates", id)
		}
	}
}

func TestRelevantStoresEmptySession(t *testing.T) {
	sess := session.New("chat", "client", 0, 0)
	if got := relevantStores(sess); len(got) != 0 {
		t.Errorf("relevantStores() = %v, want empty", got)
	}
}

// TestAssessStoreFitThresholdBoundary pins the ask-the-user boundary: a
// ratio exactly at the threshold keeps the current-store path, only a
// strictly lower ratio asks the user to pick a store.
func TestAssessStoreFitThresholdBoundary(t *testing.T) {
	newEngine := func(t *testing.T) *Engine {
		t.Helper()
		e, err := NewEngine(Config{Classifier: &fakeClassifier{}, Catalog: &fakeCatalog{}})
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		return e
	}

	// 10 candidates, 3 covered by store "1": ratio 0.3, exactly at the
	// default threshold.
	buildSession := func(covered int) *session.ChatSession {
		sess := session.New("chat", "client", 0, 0)
		var cart, catalog []session.Product
		for i := 0; i < 10; i++ {
			name := "item" + string(rune('a'+i))
			p := session.Product{ID: "1-" + name, StoreID: "1", Name: name, Quantity: 1}
			cart = append(cart, p)
			if i < covered {
				catalog = append(catalog, p)
			}
		}
		sess.Order = cart
		sess.StoresCarts = map[string][]session.Product{"1": catalog}
		return sess
	}

	t.Run("ratio at threshold keeps current store", func(t *testing.T) {
		e := newEngine(t)
		sess := buildSession(3)
		ts := &turnState{}

		e.assessStoreFit(sess, nil, ts)

		if !ts.output.Success {
			t.Errorf("output at ratio 0.3 should stay on the current-store path: %+v", ts.output)
		}
	})

	t.Run("ratio below threshold asks the user", func(t *testing.T) {
		e := newEngine(t)
		sess := buildSession(2)
		ts := &turnState{}

		e.assessStoreFit(sess, nil, ts)

		if ts.output.Success {
			t.Errorf("output at ratio 0.2 should ask the user: %+v", ts.output)
		}
		if ask, _ := ts.output.Details["ask_store"].(bool); !ask {
			t.Errorf("expected ask_store detail, got %+v", ts.output.Details)
		}
	})
}

// When a different store covers the candidate set better than the active
// one, the fit step proposes the switch but must not touch the cart;
// committing happens only in the add-to-cart step.
func TestAssessStoreFitProposesSwitch(t *testing.T) {
	e, err := NewEngine(Config{Classifier: &fakeClassifier{}, Catalog: &fakeCatalog{}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	sess := session.New("chat", "client", 0, 0)
	sess.Order = []session.Product{
		{ID: "1-milk", StoreID: "1", Name: "milk", Quantity: 1},
		{ID: "1-bread", StoreID: "1", Name: "bread", Quantity: 2},
	}
	selected := []session.Product{{ID: "2-eggs", StoreID: "2", Name: "eggs", Quantity: 1}}
	sess.StoresCarts = map[string][]session.Product{
		"1": catalogOf("1", "milk"),
		"2": catalogOf("2", "milk", "bread", "eggs"),
	}
	before := append([]session.Product(nil), sess.Order...)
	ts := &turnState{}

	e.assessStoreFit(sess, selected, ts)

	if !ts.output.Success {
		t.Fatalf("output should propose a switch, got %+v", ts.output)
	}
	if got, _ := ts.output.Details["suggested_store"].(string); got != "2" {
		t.Errorf("suggested_store = %q, want %q", got, "2")
	}
	covered, _ := ts.output.Details["suggested_cart"].([]string)
	want := []string{"milk", "bread", "eggs"}
	if !reflect.DeepEqual(covered, want) {
		t.Errorf("suggested_cart = %v, want %v", covered, want)
	}
	if !reflect.DeepEqual(sess.Order, before) {
		t.Errorf("cart changed during fit assessment: %+v", sess.Order)
	}
	if sess.ActiveStoreID() != "1" {
		t.Errorf("active store = %q, want %q", sess.ActiveStoreID(), "1")
	}
}

func TestNormalizeStoreID(t *testing.T) {
	storesCarts := map[string][]session.Product{
		"12":      catalogOf("12", "milk"),
		"store42": catalogOf("store42", "eggs"),
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain id", raw: "12", want: "12"},
		{name: "prefixed id", raw: "store12", want: "12"},
		{name: "prefixed with space", raw: "store 12", want: "12"},
		{name: "raw matches when stripped does not", raw: "store42", want: "store42"},
		{name: "unknown id", raw: "77", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeStoreID(tt.raw, storesCarts)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalizeStoreID(%q) expected error, got %q", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeStoreID(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("normalizeStoreID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
