package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row.
type fakeRow struct {
	state []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("fakeRow expects a single destination")
	}
	p, ok := dest[0].(*[]byte)
	if !ok {
		return errors.New("fakeRow expects *[]byte destination")
	}
	*p = r.state
	return nil
}

// fakeDB implements DB and records the last Exec arguments.
type fakeDB struct {
	row      fakeRow
	execErr  error
	execSQL  string
	execArgs []any
	pingErr  error
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return db.row
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = sql
	db.execArgs = args
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) Ping(_ context.Context) error {
	return db.pingErr
}

func TestLoadNotFound(t *testing.T) {
	store := NewStore(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}}, nil)

	_, err := store.Load(context.Background(), "chat", "client")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestLoadDecodesState(t *testing.T) {
	want := New("chat", "client", 1.5, 2.5)
	want.Order = []Product{{ID: "p1", StoreID: "1", Name: "milk", Quantity: 2}}
	state, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	store := NewStore(&fakeDB{row: fakeRow{state: state}}, nil)
	got, err := store.Load(context.Background(), "chat", "client")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if got.ChatID != "chat" || got.ClientID != "client" {
		t.Errorf("loaded keys = %q/%q", got.ChatID, got.ClientID)
	}
	if len(got.Order) != 1 || got.Order[0].Name != "milk" {
		t.Errorf("loaded cart = %+v", got.Order)
	}
	if got.StoresCarts == nil {
		t.Error("StoresCarts must never be nil after Load")
	}
}

func TestLoadMalformedState(t *testing.T) {
	store := NewStore(&fakeDB{row: fakeRow{state: []byte("{not json")}}, nil)

	if _, err := store.Load(context.Background(), "chat", "client"); err == nil {
		t.Error("Load() with malformed state should error")
	}
}

func TestSaveUpserts(t *testing.T) {
	db := &fakeDB{}
	store := NewStore(db, nil)
	sess := New("chat", "client", 0, 0)
	sess.AddMessage(RoleUser, "hello")

	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	if len(db.execArgs) != 5 {
		t.Fatalf("Exec args = %d, want 5", len(db.execArgs))
	}
	if db.execArgs[0] != "chat" || db.execArgs[1] != "client" {
		t.Errorf("Exec keys = %v/%v", db.execArgs[0], db.execArgs[1])
	}

	state, ok := db.execArgs[2].([]byte)
	if !ok {
		t.Fatalf("state arg is %T, want []byte", db.execArgs[2])
	}
	var round ChatSession
	if err := json.Unmarshal(state, &round); err != nil {
		t.Fatalf("state is not valid JSON: %v", err)
	}
	if len(round.Messages) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(round.Messages))
	}
}

func TestSavePropagatesError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection lost")}
	store := NewStore(db, nil)

	if err := store.Save(context.Background(), New("chat", "client", 0, 0)); err == nil {
		t.Error("Save() should propagate Exec errors")
	}
}

func TestPing(t *testing.T) {
	wantErr := errors.New("down")
	store := NewStore(&fakeDB{pingErr: wantErr}, nil)

	if err := store.Ping(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Ping() error = %v, want %v", err, wantErr)
	}
}
