package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "uploads.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAssignsID(t *testing.T) {
	s := newTestStore(t)
	u := &Upload{UserID: "u1", Bucket: "math-images", StorageKey: "u1/a.jpg", OriginalName: "a.jpg"}
	if err := s.Insert(context.Background(), u); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("ID not assigned")
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped")
	}
}

func TestListByUserScopesAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"u1/a.jpg", "u1/b.jpg"} {
		if err := s.Insert(ctx, &Upload{UserID: "u1", Bucket: "math-images", StorageKey: key}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := s.Insert(ctx, &Upload{UserID: "u2", Bucket: "math-images", StorageKey: "u2/c.jpg"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d want=2", len(got))
	}
	if got[0].StorageKey != "u1/b.jpg" {
		t.Fatalf("order wrong: %v", got)
	}
}

func TestDeleteEnforcesOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &Upload{UserID: "u1", Bucket: "math-images", StorageKey: "u1/a.jpg"}
	if err := s.Insert(ctx, u); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err := s.Delete(ctx, u.ID, "intruder")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Fatal("delete must not cross users")
	}

	ok, err = s.Delete(ctx, u.ID, "u1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatal("owner delete failed")
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ListByUser(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len=%d want=0", len(got))
	}
}
