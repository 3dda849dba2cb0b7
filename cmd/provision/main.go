// Command provision creates or updates an owner account. It is idempotent:
// rerunning with the same email resets the password instead of failing, so
// deploy scripts can call it unconditionally.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/config"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

func main() {
	email := flag.String("email", "", "owner email (required)")
	name := flag.String("name", "", "owner display name")
	password := flag.String("password", "", "password; generated when empty")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: provision -email owner@example.com [-name Name] [-password secret]")
		os.Exit(2)
	}

	cfg := config.Load()
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	pass := *password
	generated := false
	if pass == "" {
		pass, err = auth.GenerateToken(12)
		if err != nil {
			slog.Error("generate password", "error", err)
			os.Exit(1)
		}
		generated = true
	}
	hash, err := auth.HashPassword(pass)
	if err != nil {
		slog.Error("hash password", "error", err)
		os.Exit(1)
	}

	existing, err := db.GetAccountByEmail(database, *email)
	if err != nil {
		slog.Error("lookup account", "error", err)
		os.Exit(1)
	}

	if existing != nil {
		if _, err := database.Exec(
			`UPDATE accounts SET password_hash = ?, enabled = 1 WHERE id = ?`,
			hash, existing.ID,
		); err != nil {
			slog.Error("update account", "error", err)
			os.Exit(1)
		}
		fmt.Printf("updated account %s (%s)\n", *email, existing.ID)
	} else {
		displayName := *name
		if displayName == "" {
			displayName = *email
		}
		account := &model.Account{
			ID:           uuid.NewString(),
			Email:        *email,
			Name:         displayName,
			PasswordHash: hash,
			Role:         "owner",
		}
		if err := db.CreateAccount(database, account); err != nil {
			slog.Error("create account", "error", err)
			os.Exit(1)
		}
		fmt.Printf("created account %s (%s)\n", *email, account.ID)
	}

	if generated {
		fmt.Printf("password: %s\n", pass)
	}
}
