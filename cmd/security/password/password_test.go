package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// Keep unit tests fast; production cost stays at the default.
	cfg.Params.Cost = bcrypt.MinCost
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := testConfig()

	enc, err := cfg.Hash("Secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(enc, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", enc)
	}

	ok, err := cfg.Verify(enc, "Secret1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected password to verify")
	}

	ok, err = cfg.Verify(enc, "wrong-password")
	if err != nil {
		t.Fatalf("Verify mismatch: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := testConfig()

	if _, err := cfg.Verify("not-a-bcrypt-hash", "whatever"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestValidate_Policy(t *testing.T) {
	cfg := testConfig()

	if err := cfg.Validate("abc"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate(strings.Repeat("a", 80)); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	cfg.Policy.RejectVeryWeak = true
	if err := cfg.Validate("123456"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("Secret1"); err != nil {
		t.Fatalf("expected Secret1 to pass policy, got %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TAVOLO_PASSWORD_BCRYPT_COST", "10")
	t.Setenv("TAVOLO_PASSWORD_MIN_LENGTH", "8")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Params.Cost != 10 {
		t.Fatalf("cost=%d want 10", cfg.Params.Cost)
	}
	if cfg.Policy.MinLength != 8 {
		t.Fatalf("min=%d want 8", cfg.Policy.MinLength)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("TAVOLO_PASSWORD_BCRYPT_COST", "99")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for out-of-range cost")
	}
}
