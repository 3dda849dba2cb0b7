package db

import (
	"database/sql"

	"github.com/flipshare/flipshare/internal/model"
)

func CreateAccount(database *sql.DB, a *model.Account) error {
	role := a.Role
	if role == "" {
		role = "owner"
	}
	_, err := database.Exec(
		`INSERT INTO accounts (id, email, name, password_hash, role) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Name, a.PasswordHash, role,
	)
	return err
}

func GetAccountByEmail(database *sql.DB, email string) (*model.Account, error) {
	a := &model.Account{}
	var createdAt SQLiteTime
	err := database.QueryRow(
		`SELECT id, email, name, password_hash, role, enabled, created_at
		 FROM accounts WHERE email = ?`, email,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.Enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	a.CreatedAt = createdAt.Time
	return a, err
}

func GetAccountByID(database *sql.DB, id string) (*model.Account, error) {
	a := &model.Account{}
	var createdAt SQLiteTime
	err := database.QueryRow(
		`SELECT id, email, name, password_hash, role, enabled, created_at
		 FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.Enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	a.CreatedAt = createdAt.Time
	return a, err
}
