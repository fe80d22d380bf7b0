// helpdeskctl is the operator CLI: it applies the database schema and
// seeds administrator accounts.
//
//	helpdeskctl migrate
//	helpdeskctl create-admin --email ada@campus.edu --name "Ada Admin" --password ...
//
// Both commands read DATABASE_URL from the environment unless --database-url
// is given.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/campusdesk/helpdesk/internal/config"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/internal/store/postgres"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return errors.New("missing command")
	}

	switch args[0] {
	case "migrate":
		return migrate(ctx, args[1:], out)
	case "create-admin":
		return createAdmin(ctx, args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "usage: helpdeskctl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  migrate        apply the database schema")
	fmt.Fprintln(out, "  create-admin   create an administrator account")
}

func databaseFlag(flagSet *pflag.FlagSet) *string {
	return flagSet.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
}

func connect(ctx context.Context, dsn string) (*postgres.Store, error) {
	if dsn == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return postgres.Connect(ctx, dsn)
}

func migrate(ctx context.Context, args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	dsn := databaseFlag(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	st, err := connect(ctx, *dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "schema is up to date")
	return nil
}

// adminRequest reads and validates the create-admin flags.
func adminRequest(args []string, out io.Writer) (model.SignUpRequest, string, error) {
	flagSet := pflag.NewFlagSet("create-admin", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	dsn := databaseFlag(flagSet)
	email := flagSet.String("email", "", "administrator email")
	name := flagSet.String("name", "", "administrator full name")
	password := flagSet.StringP("password", "p", os.Getenv("HELPDESK_ADMIN_PASSWORD"), "administrator password (default $HELPDESK_ADMIN_PASSWORD)")
	if err := flagSet.Parse(args); err != nil {
		return model.SignUpRequest{}, "", err
	}

	req, err := service.ValidateSignUp(model.SignUpRequest{
		Email:    *email,
		Password: *password,
		Role:     model.RoleAdmin,
		FullName: *name,
	})
	return req, *dsn, err
}

func createAdmin(ctx context.Context, args []string, out io.Writer) error {
	req, dsn, err := adminRequest(args, out)
	if err != nil {
		return err
	}

	st, err := connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	// Token settings do not matter here; only the account is kept.
	cfg := config.Default()
	auth := service.NewAuthService(st, service.NewTokens(cfg.JWTSecret, cfg.JWTExpiration), logger.NewNop())
	resp, err := auth.SignUp(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created administrator %s (%s)\n", resp.Identity.Name, resp.Identity.UserID)
	return nil
}
