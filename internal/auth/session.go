package auth

import (
	"context"
	"errors"
	"time"
)

const DefaultMaxAge = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotLoggedIn        = errors.New("not logged in")
)

// Session links an opaque token to the logged in user.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) Expired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.CreatedAt) > maxAge
}

// SessionStore keeps the server side session associations.
// Get returns nil when the token is unknown or expired.
type SessionStore interface {
	Save(ctx context.Context, session Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) (bool, error)
}

type userIDCtxKey struct{}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDCtxKey{}).(string)
	return userID, ok && userID != ""
}
