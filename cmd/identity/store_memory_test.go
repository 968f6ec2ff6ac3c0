package identity

import (
	"context"
	"testing"
	"time"
)

func fastBcrypt(t *testing.T) {
	t.Helper()
	// Keep unit tests fast; production cost stays at the default.
	t.Setenv("TAVOLO_PASSWORD_BCRYPT_COST", "4")
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	fastBcrypt(t)

	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := st.CreateUser(ctx, CreateUserInput{
		Email:    "Alice@Example.com",
		Password: "Secret1",
		Name:     "Alice",
		Now:      now,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.EmailNorm != "alice@example.com" {
		t.Fatalf("email not normalized: %q", u.EmailNorm)
	}
	if u.Role != RoleCustomer || !u.IsActive {
		t.Fatalf("unexpected defaults: role=%q active=%v", u.Role, u.IsActive)
	}

	got, err := st.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.Email != "Alice@Example.com" {
		t.Fatalf("unexpected email %q", got.Email)
	}

	// Lookup is case-insensitive and includes the hash.
	ua, err := st.GetUserAuthByEmail(ctx, "ALICE@example.COM")
	if err != nil {
		t.Fatalf("GetUserAuthByEmail: %v", err)
	}
	if ua.PasswordHash == "" || ua.PasswordHash == "Secret1" {
		t.Fatalf("password must be stored hashed")
	}

	ok, err := VerifyPassword("Secret1", ua.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	fastBcrypt(t)

	st := NewMemoryStore()
	ctx := context.Background()

	in := CreateUserInput{Email: "a@x.com", Password: "Secret1", Name: "A"}
	if _, err := st.CreateUser(ctx, in); err != nil {
		t.Fatalf("first CreateUser: %v", err)
	}

	in.Email = "A@X.COM" // same after normalization
	_, err := st.CreateUser(ctx, in)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_MissingUser(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.GetUserByID(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.GetUserAuthByEmail(ctx, "nobody@x.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_SetActive(t *testing.T) {
	fastBcrypt(t)

	st := NewMemoryStore()
	ctx := context.Background()

	u, err := st.CreateUser(ctx, CreateUserInput{Email: "b@x.com", Password: "Secret1", Name: "B"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := st.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := st.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected user to be inactive")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Mail.COM "); got != "user@mail.com" {
		t.Fatalf("NormalizeEmail=%q", got)
	}
}
