package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"faceconsole/internal/faults"
)

// ListUsers returns all identities known to the backend.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.get(ctx, "/api/users", nil, &users)
	return users, err
}

// GetUser returns one identity, including its current enrollment flag.
func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	err := c.get(ctx, fmt.Sprintf("/api/users/%d", id), nil, &user)
	return user, err
}

// CreateUser registers a new identity.
func (c *Client) CreateUser(ctx context.Context, name, code string) (User, error) {
	if err := validateName(name); err != nil {
		return User{}, err
	}
	var user User
	err := c.doJSON(ctx, http.MethodPost, "/api/users", map[string]string{"name": name, "code": code}, &user)
	return user, err
}

// UpdateUser renames or recodes an identity. Empty fields are left unchanged.
func (c *Client) UpdateUser(ctx context.Context, id int64, name, code string) (User, error) {
	if name != "" {
		if err := validateName(name); err != nil {
			return User{}, err
		}
	}
	payload := map[string]string{}
	if name != "" {
		payload["name"] = name
	}
	if code != "" {
		payload["code"] = code
	}
	var user User
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/users/%d", id), payload, &user)
	return user, err
}

// DeleteUser removes an identity and its enrollment.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/users/%d", id), nil, nil)
}

// validateName mirrors the backend rule: names feed the CSV export, so
// commas are rejected before the round trip.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return faults.New(faults.Unclassified, "name required")
	}
	if strings.Contains(name, ",") {
		return faults.New(faults.Unclassified, "name must not contain a comma")
	}
	return nil
}
