// Command useradd manages accounts for the local identity backend.
//
//	DATABASE_DSN=postgres://... useradd -email a@b.com -password secret123 -role admin
//	DATABASE_DSN=postgres://... useradd -email a@b.com -confirm-only
//
// -confirm-only marks an account created through POST /auth/register as
// confirmed so it can log in.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"session-bridge/internal/db"
	"session-bridge/internal/identity/local"
	"session-bridge/internal/logger"
)

var errUsage = errors.New("usage")

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"), true)

	err := run(context.Background(), os.Args[1:])
	logger.Sync()

	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	var (
		email       = fs.String("email", "", "account email")
		password    = fs.String("password", "", "account password")
		role        = fs.String("role", "user", "role claim stored on the account")
		confirmed   = fs.Bool("confirmed", true, "mark the email as confirmed")
		confirmOnly = fs.Bool("confirm-only", false, "only confirm the email of an existing account")
		dsn         = fs.String("dsn", os.Getenv("DATABASE_DSN"), "postgres DSN")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *email == "" || *dsn == "" || (!*confirmOnly && *password == "") {
		fs.Usage()
		return errUsage
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, *dsn)
	if err != nil {
		logger.Error("failed to open database", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	defer database.Close()

	svc := local.NewService(database, local.Config{})

	if *confirmOnly {
		if err := svc.ConfirmEmail(ctx, *email); err != nil {
			logger.Error("failed to confirm email", map[string]any{
				"email": *email,
				"error": err.Error(),
			})
			return err
		}
		logger.Info("email confirmed", map[string]any{
			"email": *email,
		})
		return nil
	}

	userID, err := svc.Register(ctx, local.Registration{
		Email:     *email,
		Password:  *password,
		Role:      *role,
		Confirmed: *confirmed,
	})
	if err != nil {
		logger.Error("failed to register user", map[string]any{
			"email": *email,
			"error": err.Error(),
		})
		return err
	}

	logger.Info("user registered", map[string]any{
		"user_id":   userID,
		"email":     *email,
		"role":      *role,
		"confirmed": *confirmed,
	})
	return nil
}
