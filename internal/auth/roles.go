package auth

import (
	"errors"
	"fmt"
	"strings"

	"certledger.org/internal/storage"
)

// Role is a capability tag. The set is open; RoleIssuer is the one the
// lifecycle engine checks today.
type Role string

// RoleIssuer may mint certifications.
const RoleIssuer Role = "issuer"

// ParseRole normalizes and validates a capability tag.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRole)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' && c != '-' && c != '.' {
			return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
		}
	}
	return Role(s), nil
}

// RequireOwner fails with ErrUnauthorized unless caller is the owner.
func RequireOwner(owner, caller string) error {
	if caller == "" || caller != owner {
		return fmt.Errorf("%w: owner only", ErrUnauthorized)
	}
	return nil
}

// Registry stores (role, account) grants in a key/value namespace.
// Keys are "<role>/<account>" with an empty marker value.
type Registry struct {
	rw storage.ReadWriter
}

// NewRegistry returns a registry over rw.
func NewRegistry(rw storage.ReadWriter) *Registry {
	return &Registry{rw: rw}
}

func grantKey(role Role, account string) []byte {
	return []byte(string(role) + "/" + account)
}

var grantMarker = []byte{1}

// Has reports whether account holds role.
func (r *Registry) Has(account string, role Role) (bool, error) {
	return r.rw.Has(grantKey(role, account))
}

// Require fails with ErrUnauthorized unless account holds role.
func (r *Registry) Require(account string, role Role) error {
	ok, err := r.Has(account, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s role required", ErrUnauthorized, role)
	}
	return nil
}

// Add grants role to account. Granting an existing pair is a no-op; the
// return value reports whether anything changed.
func (r *Registry) Add(account string, role Role) (bool, error) {
	if err := ValidateAccountID(account); err != nil {
		return false, err
	}
	ok, err := r.Has(account, role)
	if err != nil || ok {
		return false, err
	}
	if err := r.rw.Put(grantKey(role, account), grantMarker); err != nil {
		return false, err
	}
	return true, nil
}

// Remove revokes role from account. Revoking a missing pair is a no-op.
func (r *Registry) Remove(account string, role Role) (bool, error) {
	ok, err := r.Has(account, role)
	if err != nil || !ok {
		return false, err
	}
	if err := r.rw.Delete(grantKey(role, account)); err != nil {
		return false, err
	}
	return true, nil
}

// Holders lists the accounts holding role in ascending order.
func (r *Registry) Holders(role Role) ([]string, error) {
	prefix := []byte(string(role) + "/")
	var out []string
	err := r.rw.ForEach(prefix, func(k, _ []byte) error {
		out = append(out, string(k[len(prefix):]))
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return out, nil
}
