/*
Package ulmsdk is the client for the ULM user management backend.

# Overview

A Client wraps every request with the stored access token and keeps that
token valid without the caller's help:

	store := tokenstore.New(tokenstore.NewMemoryBackend())
	client := ulmsdk.New("https://ulm.example.com", store)

	if _, err := client.Login(ctx, "admin", password); err != nil {
		fmt.Println(ulmsdk.UserMessage(err))
	}

	users, err := client.ListUsers(ctx, ulmsdk.ListUsersParams{Limit: 20})

# Token refresh

Before each request the client decodes the stored access token's expiry
(without verifying it). If the token expires within the expiry buffer, or
its expiry cannot be read, it is refreshed first. If the backend still
answers 401 the client refreshes and resends the request exactly once.

Refreshes are single-flight per Client: concurrent requests that need a new
token wait for the one refresh in progress and share its result. Requests to
the login, refresh and logout endpoints skip all of this.

# Logout signal

When a refresh fails, or no refresh token is stored, both tokens are cleared
and the logout signal fires once:

	unsubscribe := client.OnLogoutRequired(func() {
		fmt.Println("session expired, please log in again")
	})
	defer unsubscribe()

The same event is delivered on LogoutRequired(). It fires again only after a
new Login.

# Errors

Non-2xx responses are *HTTPError. Refresh failures are *RefreshError and
match ErrRefreshFailed. UserMessage turns any error into short text fit for
a terminal.
*/
package ulmsdk
