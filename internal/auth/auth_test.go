package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"certledger.org/internal/storage"
)

func TestValidateAccountID(t *testing.T) {
	valid := []string{"alice.near", "bob", "a1", "issuer-1.test_net", "0000000000000000000000000000000000000000000000000000000000000000"}
	for _, id := range valid {
		if err := ValidateAccountID(id); err != nil {
			t.Fatalf("ValidateAccountID(%q) = %v", id, err)
		}
	}
	invalid := []string{"", "a", "Alice.near", ".alice", "alice.", "al..ice", "al ice", "a/b"}
	for _, id := range invalid {
		if err := ValidateAccountID(id); !errors.Is(err, ErrInvalidAccount) {
			t.Fatalf("ValidateAccountID(%q) = %v, want ErrInvalidAccount", id, err)
		}
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("  Issuer ")
	if err != nil || r != RoleIssuer {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("bad/role"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRequireOwner(t *testing.T) {
	if err := RequireOwner("owner.near", "owner.near"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	if err := RequireOwner("owner.near", "alice.near"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := RequireOwner("", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty caller accepted: %v", err)
	}
}

func TestRegistryIdempotent(t *testing.T) {
	reg := NewRegistry(storage.NewPrefixDB(storage.NewMemory(), []byte("r/")))

	changed, err := reg.Add("alice.near", RoleIssuer)
	if err != nil || !changed {
		t.Fatalf("first Add = %v, %v", changed, err)
	}
	changed, err = reg.Add("alice.near", RoleIssuer)
	if err != nil || changed {
		t.Fatalf("second Add = %v, %v", changed, err)
	}
	if err := reg.Require("alice.near", RoleIssuer); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if err := reg.Require("alice.near", Role("auditor")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unexpected grant for other role: %v", err)
	}
	reg.Add("bob.near", RoleIssuer)
	holders, _ := reg.Holders(RoleIssuer)
	if len(holders) != 2 || holders[0] != "alice.near" || holders[1] != "bob.near" {
		t.Fatalf("Holders = %v", holders)
	}

	changed, err = reg.Remove("alice.near", RoleIssuer)
	if err != nil || !changed {
		t.Fatalf("Remove = %v, %v", changed, err)
	}
	changed, err = reg.Remove("alice.near", RoleIssuer)
	if err != nil || changed {
		t.Fatalf("second Remove = %v, %v", changed, err)
	}
	if err := reg.Require("alice.near", RoleIssuer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("removed issuer still authorized: %v", err)
	}
	if _, err := reg.Add("Not Valid", RoleIssuer); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()
	defer ResetSecretForTests()

	token, expires, err := GenerateToken("alice.near", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiry, got %v", expires)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Account() != "alice.near" {
		t.Fatalf("unexpected subject %q", claims.Account())
	}

	SetSecret("other-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token accepted with wrong secret: %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	defer ResetSecretForTests()
	if _, _, err := GenerateToken("alice.near", time.Minute); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}

func TestCallerContext(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), Caller{Account: "alice.near", Method: MethodBearer})
	c, ok := CallerFromContext(ctx)
	if !ok || c.Account != "alice.near" || c.Method != MethodBearer {
		t.Fatalf("CallerFromContext = %+v, %v", c, ok)
	}
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatal("unexpected caller in empty context")
	}
}
