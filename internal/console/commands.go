package console

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/ulmsdk"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitUsage          = 2
	ExitSessionExpired = 3
)

// ErrUsage marks a malformed command line.
var ErrUsage = errors.New("usage error")

const usageText = `Usage: ulmctl [--config path] <command> [flags]

Commands:
  login -u <user> [-p <password>]   log in (password falls back to ULM_PASSWORD, then stdin)
  logout                            revoke the session and forget credentials
  whoami [-cached]                  show the logged-in user
  status                            backend health and session state
  users list [-search s] [-skip n] [-limit n]
  users get <id>
  users create -u <user> -e <email> -p <password> [-name n] [-admin]
  users update <id> [-email e] [-name n] [-password p] [-active bool] [-admin bool]
  users delete <id>
  apikeys list
  apikeys create -name <name> [-days n]
  apikeys revoke <id>
  logs [-level l] [-limit n]
  env                               list configuration variables
`

// Main runs ulmctl and returns the process exit code.
func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("ulmctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usageText) }
	configPath := global.String("config", "", "path to a YAML config file")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return ExitUsage
	}

	if rest[0] == "env" {
		Usage(stdout)
		return ExitOK
	}

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "ulmctl:", err)
		return ExitError
	}

	app, err := New(cfg)
	if err != nil {
		fmt.Fprintln(stderr, "ulmctl:", err)
		return ExitError
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var expired atomic.Bool
	unsubscribe := app.Client.OnLogoutRequired(func() { expired.Store(true) })
	defer unsubscribe()

	err = app.Exec(ctx, rest, stdin, stdout)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage), errors.Is(err, flag.ErrHelp):
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "ulmctl:", err)
		}
		return ExitUsage
	case expired.Load():
		fmt.Fprintln(stderr, "ulmctl: session expired, run `ulmctl login`")
		return ExitSessionExpired
	default:
		app.Logger.Debug("command failed", "err", err)
		fmt.Fprintln(stderr, "ulmctl:", ulmsdk.UserMessage(err))
		return ExitError
	}
}

// Exec runs one command against the app's client.
func (a *App) Exec(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", ErrUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest, stdin, stdout)
	case "logout":
		if err := a.Client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "logged out")
		return nil
	case "whoami":
		return a.whoami(ctx, rest, stdout)
	case "status":
		return a.status(ctx, stdout)
	case "users":
		return a.users(ctx, rest, stdout)
	case "apikeys":
		return a.apiKeys(ctx, rest, stdout)
	case "logs":
		return a.logs(ctx, rest, stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	return nil
}

// oneArg parses flags that may follow a single positional argument.
func oneArg(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", fmt.Errorf("%w: %s needs an id", ErrUsage, fs.Name())
	}
	if err := parseFlags(fs, args[1:]); err != nil {
		return "", err
	}
	return args[0], nil
}

// ============================================================================
// Session commands
// ============================================================================

func (a *App) login(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newFlagSet("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("%w: login needs -u", ErrUsage)
	}

	if *password == "" {
		*password = os.Getenv("ULM_PASSWORD")
	}
	if *password == "" {
		fmt.Fprint(stdout, "Password: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	user, err := a.Client.Login(ctx, *username, *password)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "logged in as %s\n", user.Username)
	return nil
}

func (a *App) whoami(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("whoami")
	cached := fs.Bool("cached", false, "use the profile stored at login")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var (
		user *ulmsdk.User
		err  error
	)
	if *cached {
		user, err = a.Client.CachedUser(ctx)
	} else {
		user, err = a.Client.RestoreSession(ctx)
	}
	if err != nil {
		return err
	}

	tw := newTable(stdout)
	fmt.Fprintf(tw, "ID\t%s\n", user.ID)
	fmt.Fprintf(tw, "Username\t%s\n", user.Username)
	fmt.Fprintf(tw, "Email\t%s\n", user.Email)
	fmt.Fprintf(tw, "Admin\t%t\n", user.IsAdmin)
	return tw.Flush()
}

func (a *App) status(ctx context.Context, stdout io.Writer) error {
	tw := newTable(stdout)
	fmt.Fprintf(tw, "Backend\t%s\n", a.Client.BaseURL())

	health, err := a.Client.Health(ctx)
	if err != nil {
		fmt.Fprintf(tw, "Health\t%s\n", ulmsdk.UserMessage(err))
	} else {
		fmt.Fprintf(tw, "Health\t%s (%s)\n", health.Status, health.Version)
	}

	session := "not logged in"
	if a.Client.IsAuthenticated(ctx) {
		if user, err := a.Client.RestoreSession(ctx); err != nil {
			session = ulmsdk.UserMessage(err)
		} else {
			session = "logged in as " + user.Username
		}
	}
	fmt.Fprintf(tw, "Session\t%s\n", session)

	return tw.Flush()
}

// ============================================================================
// Admin commands
// ============================================================================

func (a *App) users(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: users needs a subcommand", ErrUsage)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := newFlagSet("users list")
		search := fs.String("search", "", "filter by username or email")
		skip := fs.Int("skip", 0, "offset")
		limit := fs.Int("limit", 50, "page size")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}

		list, err := a.Client.ListUsers(ctx, ulmsdk.ListUsersParams{Skip: *skip, Limit: *limit, Search: *search})
		if err != nil {
			return err
		}

		tw := newTable(stdout)
		fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tADMIN\tACTIVE")
		for _, u := range list.Users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", u.ID, u.Username, u.Email, u.IsAdmin, u.IsActive)
		}
		fmt.Fprintf(tw, "\n%d of %d\n", len(list.Users), list.Total)
		return tw.Flush()

	case "get":
		id, err := oneArg(newFlagSet("users get"), rest)
		if err != nil {
			return err
		}
		user, err := a.Client.GetUser(ctx, id)
		if err != nil {
			return err
		}
		return printUser(stdout, user)

	case "create":
		fs := newFlagSet("users create")
		username := fs.String("u", "", "username")
		email := fs.String("e", "", "email")
		password := fs.String("p", "", "password")
		name := fs.String("name", "", "full name")
		admin := fs.Bool("admin", false, "grant admin")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		if *username == "" || *email == "" || *password == "" {
			return fmt.Errorf("%w: users create needs -u, -e and -p", ErrUsage)
		}

		user, err := a.Client.CreateUser(ctx, ulmsdk.CreateUserRequest{
			Username: *username,
			Email:    *email,
			Password: *password,
			FullName: *name,
			IsAdmin:  *admin,
		})
		if err != nil {
			return err
		}
		return printUser(stdout, user)

	case "update":
		fs := newFlagSet("users update")
		email := fs.String("email", "", "email")
		name := fs.String("name", "", "full name")
		password := fs.String("password", "", "new password")
		active := fs.Bool("active", true, "account enabled")
		admin := fs.Bool("admin", false, "admin rights")
		id, err := oneArg(fs, rest)
		if err != nil {
			return err
		}

		var req ulmsdk.UpdateUserRequest
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "email":
				req.Email = email
			case "name":
				req.FullName = name
			case "password":
				req.Password = password
			case "active":
				req.IsActive = active
			case "admin":
				req.IsAdmin = admin
			}
		})

		user, err := a.Client.UpdateUser(ctx, id, req)
		if err != nil {
			return err
		}
		return printUser(stdout, user)

	case "delete":
		id, err := oneArg(newFlagSet("users delete"), rest)
		if err != nil {
			return err
		}
		if err := a.Client.DeleteUser(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %s\n", id)
		return nil

	default:
		return fmt.Errorf("%w: unknown users subcommand %q", ErrUsage, sub)
	}
}

func (a *App) apiKeys(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: apikeys needs a subcommand", ErrUsage)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		keys, err := a.Client.ListAPIKeys(ctx)
		if err != nil {
			return err
		}

		tw := newTable(stdout)
		fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tEXPIRES\tREVOKED")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
				k.ID, k.Name, k.Prefix, formatTime(&k.CreatedAt), formatTime(k.ExpiresAt), k.Revoked)
		}
		return tw.Flush()

	case "create":
		fs := newFlagSet("apikeys create")
		name := fs.String("name", "", "key name")
		days := fs.Int("days", 0, "expiry in days, 0 for none")
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("%w: apikeys create needs -name", ErrUsage)
		}

		key, err := a.Client.CreateAPIKey(ctx, ulmsdk.CreateAPIKeyRequest{Name: *name, ExpiresInDays: *days})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created %s (%s)\n", key.Name, key.ID)
		fmt.Fprintf(stdout, "key: %s\n", key.Key)
		fmt.Fprintln(stdout, "store it now, it will not be shown again")
		return nil

	case "revoke":
		id, err := oneArg(newFlagSet("apikeys revoke"), rest)
		if err != nil {
			return err
		}
		if err := a.Client.RevokeAPIKey(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "revoked %s\n", id)
		return nil

	default:
		return fmt.Errorf("%w: unknown apikeys subcommand %q", ErrUsage, sub)
	}
}

func (a *App) logs(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("logs")
	level := fs.String("level", "", "only this level (info, warning, error)")
	limit := fs.Int("limit", 50, "max entries")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	entries, err := a.Client.ListLogs(ctx, ulmsdk.ListLogsParams{Level: *level, Limit: *limit})
	if err != nil {
		return err
	}

	tw := newTable(stdout)
	fmt.Fprintln(tw, "TIME\tLEVEL\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", formatTime(&e.Timestamp), e.Level, e.Message)
	}
	return tw.Flush()
}

// ============================================================================
// Output
// ============================================================================

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printUser(w io.Writer, u *ulmsdk.User) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID\t%s\n", u.ID)
	fmt.Fprintf(tw, "Username\t%s\n", u.Username)
	fmt.Fprintf(tw, "Email\t%s\n", u.Email)
	fmt.Fprintf(tw, "Name\t%s\n", u.FullName)
	fmt.Fprintf(tw, "Admin\t%t\n", u.IsAdmin)
	fmt.Fprintf(tw, "Active\t%t\n", u.IsActive)
	fmt.Fprintf(tw, "Created\t%s\n", formatTime(&u.CreatedAt))
	fmt.Fprintf(tw, "Last login\t%s\n", formatTime(u.LastLogin))
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
