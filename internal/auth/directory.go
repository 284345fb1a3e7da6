package auth

import (
	"context"
	"fmt"

	"rent360.org/internal/datasource"
)

var usersRequest = datasource.Request{Endpoint: "auth/users", MockPath: "auth/users.json"}

type directoryEntry struct {
	User
	Password string `json:"password"`
}

type usersResponse struct {
	Users []directoryEntry `json:"users"`
}

// Directory is the fixture (or backend) user list used for login.
type Directory struct {
	src   datasource.Source
	roles *RoleOverrides
}

func NewDirectory(src datasource.Source, roles *RoleOverrides) *Directory {
	return &Directory{src: src, roles: roles}
}

func (d *Directory) fetch(ctx context.Context) ([]directoryEntry, error) {
	var res usersResponse
	if err := d.src.Get(ctx, usersRequest, &res); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return res.Users, nil
}

// Authenticate matches email case-insensitively and checks the password.
// The returned user has role overrides applied and never carries the password.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (User, error) {
	entries, err := d.fetch(ctx)
	if err != nil {
		return User{}, err
	}
	want := NormalizeEmail(email)
	for _, e := range entries {
		if NormalizeEmail(e.Email) == want && CheckPassword(e.Password, password) {
			return d.applyOverrides(ctx, e.User), nil
		}
	}
	return User{}, ErrInvalidCredentials
}

// ListUsers returns every directory user with role overrides applied.
func (d *Directory) ListUsers(ctx context.Context) ([]User, error) {
	entries, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(entries))
	for _, e := range entries {
		out = append(out, d.applyOverrides(ctx, e.User))
	}
	return out, nil
}

func (d *Directory) applyOverrides(ctx context.Context, u User) User {
	if d.roles == nil {
		return cloneUser(u)
	}
	return d.roles.Apply(ctx, u)
}
