package user

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid user id or password")
)

type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Summary is the public view of a user; it never carries the password hash.
type Summary struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

type CreateUserParams struct {
	ID           string
	Username     string
	PasswordHash string
}
