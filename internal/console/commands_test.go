package console

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/ulm/internal/ulmtest"
)

func newTestApp(t *testing.T, srv *ulmtest.Server) *App {
	t.Helper()

	app, err := New(&Config{
		BaseURL:      srv.URL,
		Timeout:      5 * time.Second,
		ExpiryBuffer: 30 * time.Second,
		Store:        StoreConfig{Driver: DriverMemory},
		Log:          LogConfig{Level: "error", Format: "text"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func exec(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := app.Exec(t.Context(), args, strings.NewReader(""), &out)
	return out.String(), err
}

func TestExecSessionCommands(t *testing.T) {
	srv := ulmtest.New(t)
	app := newTestApp(t, srv)

	out, err := exec(t, app, "status")
	require.NoError(t, err)
	require.Contains(t, out, "ok (test)")
	require.Contains(t, out, "not logged in")

	_, err = exec(t, app, "login", "-u", ulmtest.AdminUsername, "-p", ulmtest.AdminPassword)
	require.NoError(t, err)

	out, err = exec(t, app, "whoami")
	require.NoError(t, err)
	require.Contains(t, out, ulmtest.AdminUsername)

	out, err = exec(t, app, "whoami", "-cached")
	require.NoError(t, err)
	require.Contains(t, out, ulmtest.AdminUsername)

	out, err = exec(t, app, "status")
	require.NoError(t, err)
	require.Contains(t, out, "logged in as admin")

	_, err = exec(t, app, "logout")
	require.NoError(t, err)
	require.Equal(t, 1, srv.LogoutCalls())
	require.False(t, app.Client.IsAuthenticated(t.Context()))
}

func TestExecLoginReadsPasswordFromStdin(t *testing.T) {
	srv := ulmtest.New(t)
	app := newTestApp(t, srv)
	t.Setenv("ULM_PASSWORD", "")

	var out bytes.Buffer
	err := app.Exec(t.Context(), []string{"login", "-u", ulmtest.AdminUsername},
		strings.NewReader(ulmtest.AdminPassword+"\n"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "logged in as admin")
}

func TestExecAdminCommands(t *testing.T) {
	srv := ulmtest.New(t)
	app := newTestApp(t, srv)

	_, err := exec(t, app, "login", "-u", ulmtest.AdminUsername, "-p", ulmtest.AdminPassword)
	require.NoError(t, err)

	out, err := exec(t, app, "users", "create", "-u", "gina", "-e", "gina@example.test", "-p", "gina-password", "-name", "Gina")
	require.NoError(t, err)
	require.Contains(t, out, "gina@example.test")

	id := srv.UserID("gina")
	require.NotEmpty(t, id)

	out, err = exec(t, app, "users", "list", "-search", "gin")
	require.NoError(t, err)
	require.Contains(t, out, "gina")
	require.Contains(t, out, "1 of 1")

	out, err = exec(t, app, "users", "update", id, "-active=false")
	require.NoError(t, err)
	require.Regexp(t, `Active\s+false`, out)
	require.Contains(t, out, "Gina", "unset flags leave fields alone")

	out, err = exec(t, app, "users", "get", id)
	require.NoError(t, err)
	require.Contains(t, out, "gina")

	_, err = exec(t, app, "users", "delete", id)
	require.NoError(t, err)

	out, err = exec(t, app, "apikeys", "create", "-name", "deploy", "-days", "7")
	require.NoError(t, err)
	require.Contains(t, out, "key: ulm_")

	out, err = exec(t, app, "apikeys", "list")
	require.NoError(t, err)
	require.Contains(t, out, "deploy")

	out, err = exec(t, app, "logs", "-limit", "5")
	require.NoError(t, err)
	require.Contains(t, out, "user deleted: gina")
}

func TestExecUsageErrors(t *testing.T) {
	srv := ulmtest.New(t)
	app := newTestApp(t, srv)

	for _, args := range [][]string{
		{},
		{"frobnicate"},
		{"users"},
		{"users", "get"},
		{"users", "create", "-u", "x"},
		{"apikeys", "create"},
		{"login"},
		{"logs", "-limit", "many"},
	} {
		_, err := exec(t, app, args...)
		require.ErrorIs(t, err, ErrUsage, "args %v", args)
	}
}

func TestMainExitCodes(t *testing.T) {
	srv := ulmtest.New(t)
	isolate(t)
	t.Setenv("ULM_BASE_URL", srv.URL)
	t.Setenv("ULM_STORE_DRIVER", DriverFile)
	t.Setenv("ULM_STORE_PATH", filepath.Join(t.TempDir(), "creds.json"))
	t.Setenv("ULM_STORE_PASSPHRASE", "correct horse")
	t.Setenv("LOG_LEVEL", "error")

	run := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		code := Main(args, strings.NewReader(""), &stdout, &stderr)
		return code, stdout.String(), stderr.String()
	}

	code, _, _ := run()
	require.Equal(t, ExitUsage, code)

	code, out, _ := run("env")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, "ULM_BASE_URL")

	code, _, errOut := run("login", "-u", ulmtest.AdminUsername, "-p", "wrong")
	require.Equal(t, ExitError, code)
	require.Contains(t, errOut, "incorrect credentials")

	code, _, _ = run("login", "-u", ulmtest.AdminUsername, "-p", ulmtest.AdminPassword)
	require.Equal(t, ExitOK, code)

	// The session persists in the encrypted file between invocations.
	code, out, _ = run("whoami")
	require.Equal(t, ExitOK, code)
	require.Contains(t, out, ulmtest.AdminUsername)

	srv.RevokeAccessTokens()
	srv.FailRefresh(http.StatusUnauthorized)

	code, _, errOut = run("whoami")
	require.Equal(t, ExitSessionExpired, code)
	require.Contains(t, errOut, "ulmctl login")

	code, _, errOut = run("whoami")
	require.Equal(t, ExitError, code)
	require.Contains(t, errOut, "not logged in")

	code, _, _ = run("bogus")
	require.Equal(t, ExitUsage, code)
}
