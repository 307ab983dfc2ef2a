package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueAndResolve(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.IssueKey(ctx, "usr_42", RoleRouter, "console")
	if err != nil {
		t.Fatalf("IssueKey failed: %v", err)
	}
	if key.UserID != "usr_42" || key.Role != RoleRouter {
		t.Errorf("stored key = %+v", key)
	}

	actor, err := m.Resolve(ctx, rawKey)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.UserID != "usr_42" || actor.Role != RoleRouter {
		t.Errorf("actor = %+v", actor)
	}
}

func TestResolve_BearerPrefix(t *testing.T) {
	m := NewManager(NewMemoryStore())
	rawKey, _, err := m.IssueKey(context.Background(), "usr_1", RoleCustomer, "")
	if err != nil {
		t.Fatalf("IssueKey failed: %v", err)
	}

	if _, err := m.Resolve(context.Background(), "Bearer "+rawKey); err != nil {
		t.Errorf("Resolve with Bearer prefix failed: %v", err)
	}
}

func TestResolve_Failures(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := m.Resolve(ctx, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty key: got %v, want ErrNoAPIKey", err)
	}
	if _, err := m.Resolve(ctx, "not-a-key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("malformed key: got %v, want ErrInvalidAPIKey", err)
	}
	if _, err := m.Resolve(ctx, "wsk_deadbeef"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("unknown key: got %v, want ErrInvalidAPIKey", err)
	}
}

func TestResolve_RevokedKey(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.IssueKey(ctx, "usr_9", RoleAdmin, "")
	if err != nil {
		t.Fatalf("IssueKey failed: %v", err)
	}
	if err := m.RevokeKey(ctx, key.ID, "usr_9"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := m.Resolve(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("revoked key resolved: %v", err)
	}
}

func TestResolve_ExpiredKey(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.IssueKey(ctx, "usr_9", RoleContractor, "")
	if err != nil {
		t.Fatalf("IssueKey failed: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := m.Resolve(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expired key resolved: %v", err)
	}
}

func TestRevokeKey_NotFound(t *testing.T) {
	m := NewManager(NewMemoryStore())
	if err := m.RevokeKey(context.Background(), "ak_missing", "usr_1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("got %v, want ErrKeyNotFound", err)
	}
}
