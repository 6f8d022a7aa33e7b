package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "referral.db"), "default")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty db = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Token != "tok-abc" || got.User.Email != "ada@example.com" {
		t.Errorf("Load = %+v", got)
	}
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "referral.db"), "default")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Save(ctx, testRecord()); err != nil {
		t.Fatal(err)
	}

	next := testRecord()
	next.Token = "tok-new"
	next.User.Email = "new@example.com"
	if err := s.Save(ctx, next); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "tok-new" || got.User.Email != "new@example.com" {
		t.Errorf("Load after overwrite = %+v", got)
	}
}

func TestSQLiteStoreProfileIsolation(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "referral.db")

	one, err := OpenSQLite(dbPath, "one")
	if err != nil {
		t.Fatal(err)
	}
	defer one.Close()
	two, err := OpenSQLite(dbPath, "two")
	if err != nil {
		t.Fatal(err)
	}
	defer two.Close()

	if err := one.Save(ctx, testRecord()); err != nil {
		t.Fatal(err)
	}

	if _, err := two.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile two Load = %v, want ErrNotFound", err)
	}

	if err := one.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := one.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile one Load after Clear = %v, want ErrNotFound", err)
	}
}
