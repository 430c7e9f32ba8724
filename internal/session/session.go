// Package session holds the conversational state of one grocery chat:
// the message history, the authoritative cart, per-store catalog caches,
// transient product suggestions and long-term user preferences.
//
// Persistence is handled by Store (see store.go). The in-memory types are
// not thread-safe; a session is exclusively owned by the turn processing it.
package session

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// Product is a catalog item as fetched from a store, plus the quantity a
// user chose when it sits in a cart. Price is kept in minor currency units;
// conversion to major units happens only at the response boundary.
//
// Products are immutable once fetched; cart entries own their copy.
type Product struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Brand      string    `json:"brand,omitempty"`
	PriceMinor int64     `json:"price_minor"`
	Quantity   int       `json:"quantity"`
	CachedAt   time.Time `json:"cached_at,omitzero"`
}

// ChatSession is the full persisted state of one chat, keyed by
// (ChatID, ClientID). It is created on first contact, mutated once per
// turn and saved after every turn.
type ChatSession struct {
	ChatID   string `json:"chat_id"`
	ClientID string `json:"client_id"`

	Messages []Message `json:"messages"`

	// Order is the authoritative cart. Invariant: every entry shares one
	// store id and has quantity > 0.
	Order []Product `json:"order"`

	// StoresCarts caches, per store, the products relevant to this
	// conversation so far. It is a cache, never the source of truth for
	// the live cart.
	StoresCarts map[string][]Product `json:"stores_carts"`

	// SuggestedProducts holds products proposed by the search flow that
	// the user has not committed to the cart yet.
	SuggestedProducts []Product `json:"suggested_products"`

	// Preferences are free-text long-term constraints (allergies, diets).
	// Append-only except for exact-duplicate suppression.
	Preferences []string `json:"preferences"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh session for the given keys and location.
func New(chatID, clientID string, lat, lon float64) *ChatSession {
	now := time.Now().UTC()
	return &ChatSession{
		ChatID:      chatID,
		ClientID:    clientID,
		StoresCarts: make(map[string][]Product),
		Latitude:    lat,
		Longitude:   lon,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddMessage appends a message to the conversation log.
func (s *ChatSession) AddMessage(role, content string) {
	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, SentAt: now})
	s.UpdatedAt = now
}

// RecentMessages returns the last n messages (all of them when fewer exist).
func (s *ChatSession) RecentMessages(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// ActiveStoreID returns the store id shared by all cart entries, or ""
// when the cart is empty.
func (s *ChatSession) ActiveStoreID() string {
	if len(s.Order) == 0 {
		return ""
	}
	return s.Order[0].StoreID
}

// CartSnapshot returns a copy of the current cart for later diffing.
func (s *ChatSession) CartSnapshot() []Product {
	snap := make([]Product, len(s.Order))
	copy(snap, s.Order)
	return snap
}

// MergeStoreCatalog folds products into the per-store catalog cache,
// deduplicated by product identity. Existing entries win: a product
// already cached for its store is left untouched.
func (s *ChatSession) MergeStoreCatalog(products []Product) {
	if s.StoresCarts == nil {
		s.StoresCarts = make(map[string][]Product)
	}
	for _, p := range products {
		if p.StoreID == "" {
			continue
		}
		cached := s.StoresCarts[p.StoreID]
		known := false
		for i := range cached {
			if cached[i].ID == p.ID {
				known = true
				break
			}
		}
		if !known {
			s.StoresCarts[p.StoreID] = append(cached, p)
		}
	}
}

// AddPreferences appends new preferences, suppressing exact duplicates.
// Returns the preferences that were actually added.
func (s *ChatSession) AddPreferences(prefs []string) []string {
	existing := make(map[string]struct{}, len(s.Preferences))
	for _, p := range s.Preferences {
		existing[p] = struct{}{}
	}
	var added []string
	for _, p := range prefs {
		if p == "" {
			continue
		}
		if _, ok := existing[p]; ok {
			continue
		}
		existing[p] = struct{}{}
		s.Preferences = append(s.Preferences, p)
		added = append(added, p)
	}
	return added
}
