// Package auth resolves bearer credentials to the calling user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Identity struct {
	UserID string
	Roles  []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Verifier resolves a presented token to an Identity.
type Verifier interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Chain tries each verifier in order and returns the first identity resolved.
type Chain []Verifier

func (c Chain) Resolve(ctx context.Context, token string) (Identity, error) {
	var errs []error
	for _, verifier := range c {
		if verifier == nil {
			continue
		}
		identity, err := verifier.Resolve(ctx, token)
		if err == nil {
			return identity, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{}, errors.Join(errs...)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:user:role|role" entries separated by commas.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:user:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		user := strings.TrimSpace(parts[1])
		if key == "" || user == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/user", entry)
		}
		roleParts := strings.Split(strings.TrimSpace(parts[2]), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys[key] = Identity{UserID: user, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}

func (v *StaticAPIKeyValidator) Resolve(_ context.Context, apiKey string) (Identity, error) {
	identity, ok := v.keys[apiKey]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}
