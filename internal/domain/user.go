// Package domain contains entities and ports, no transport or storage logic.
package domain

import (
	"errors"
	"strings"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrEmailInvalid    = errors.New("email invalid")
)

type UserID string

// User is the caller identity as handed over by the session layer.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// NewUser validates name and email and normalizes the email.
func NewUser(id UserID, username, email string) (*User, error) {
	u := &User{ID: id}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	if err := u.SetEmail(email); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

func (u *User) SetEmail(email string) error {
	email = NormalizeEmail(email)
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ErrEmailInvalid
	}
	u.Email = email
	return nil
}

// NormalizeEmail is applied on every email write and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
