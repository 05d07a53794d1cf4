package users

import (
	"errors"
	"strings"
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidUser   = errors.New("invalid user")
)

// User is the editorial account allowed to manage blog posts.
// The password hash never leaves the service.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type NewUser struct {
	Username     string
	PasswordHash string
}

func (u NewUser) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.Join(ErrInvalidUser, errors.New("username empty"))
	}
	if u.PasswordHash == "" {
		return errors.Join(ErrInvalidUser, errors.New("password hash empty"))
	}
	return nil
}

// Public is the representation returned by the auth endpoints.
type Public struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (u *User) Public() Public {
	return Public{
		ID:       u.ID,
		Username: u.Username,
	}
}

func (u *User) Copy() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
