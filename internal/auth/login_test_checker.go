package auth

import "context"

// LoginTestChecker maps tokens to user ids, for tests and local tooling.
type LoginTestChecker struct {
	LoggedSessions map[string]string
}

func NewLoginTestChecker() *LoginTestChecker {
	return &LoginTestChecker{
		map[string]string{},
	}
}

func (c *LoginTestChecker) LoggedUserID(_ context.Context, token string) (string, error) {
	if userID, ok := c.LoggedSessions[token]; !ok || userID == "" {
		return "", ErrNotLoggedIn
	} else {
		return userID, nil
	}
}
