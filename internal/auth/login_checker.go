package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type LoginChecker struct {
	maxAge   time.Duration
	sessions SessionStore
	now      func() time.Time
}

func NewLoginChecker(maxAge time.Duration, sessions SessionStore) *LoginChecker {
	return &LoginChecker{
		maxAge:   maxAge,
		sessions: sessions,
		now:      time.Now,
	}
}

func (lc *LoginChecker) LoggedUserID(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotLoggedIn
	}

	session, err := lc.sessions.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrNotLoggedIn
	}

	if session.Expired(lc.maxAge, lc.now()) {
		if _, err := lc.sessions.Delete(ctx, token); err != nil {
			log.Errorf("login checker, delete expired session: %s", err)
		}
		return "", ErrNotLoggedIn
	}

	return session.UserID, nil
}
