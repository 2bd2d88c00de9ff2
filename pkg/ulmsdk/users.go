package ulmsdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Admin operations on user accounts. All go through the token pipeline.

// ListUsers returns one page of users.
func (c *Client) ListUsers(ctx context.Context, params ListUsersParams) (*UserList, error) {
	q := url.Values{}
	if params.Skip > 0 {
		q.Set("skip", strconv.Itoa(params.Skip))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Search != "" {
		q.Set("search", params.Search)
	}

	path := "/api/v1/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list UserList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetUser fetches a user by ID.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, userPath(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates an account.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/users", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies a partial update.
func (c *Client) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodPatch, userPath(id), req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, userPath(id), nil, nil)
}

func userPath(id string) string {
	return "/api/v1/users/" + url.PathEscape(id)
}
