package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"
)

const sessionTokenLength = 35

type usersRepo interface {
	GetUser(ctx context.Context, id string) (*users.User, error)
	GetUserByUsername(ctx context.Context, username string) (*users.User, error)
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Service struct {
	usersRepo    usersRepo
	sessions     SessionStore
	loginChecker *LoginChecker
	maxAge       time.Duration
	now          func() time.Time
	// ability to inject random string generator func for tokens (for unit and dev testing)
	RandStringFunc func(s int) (string, error)
}

func NewAuthService(
	usersRepo usersRepo,
	sessions SessionStore,
	maxAge time.Duration,
) *Service {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Service{
		usersRepo:      usersRepo,
		sessions:       sessions,
		loginChecker:   NewLoginChecker(maxAge, sessions),
		maxAge:         maxAge,
		now:            time.Now,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (as *Service) MaxAge() time.Duration {
	return as.maxAge
}

// Login verifies the credentials and opens a new session for the user.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func (as *Service) Login(ctx context.Context, creds Credentials) (_ *Session, _ *users.User, err error) {
	ctx, _, end := tracing.StartSpan(ctx, "auth.login")
	defer end(&err)

	user, err := as.usersRepo.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || !pkg.CheckPasswordHash(creds.Password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	token, err := as.RandStringFunc(sessionTokenLength)
	if err != nil {
		return nil, nil, fmt.Errorf("generate session token: %w", err)
	}

	session := Session{
		Token:     token,
		UserID:    user.ID,
		CreatedAt: as.now().UTC().Round(0),
	}
	if err := as.sessions.Save(ctx, session, as.maxAge); err != nil {
		return nil, nil, err
	}

	return &session, user, nil
}

// Logout ends the session, reporting whether it existed.
func (as *Service) Logout(ctx context.Context, token string) (_ bool, err error) {
	ctx, _, end := tracing.StartSpan(ctx, "auth.logout")
	defer end(&err)

	if token == "" {
		return false, nil
	}
	return as.sessions.Delete(ctx, token)
}

func (as *Service) LoggedUserID(ctx context.Context, token string) (string, error) {
	return as.loginChecker.LoggedUserID(ctx, token)
}

// CurrentUser returns the user behind the session token. A session whose
// user no longer exists yields nil user and nil error.
func (as *Service) CurrentUser(ctx context.Context, token string) (_ *users.User, err error) {
	ctx, _, end := tracing.StartSpan(ctx, "auth.current_user")
	defer end(&err)

	userID, err := as.loginChecker.LoggedUserID(ctx, token)
	if err != nil {
		return nil, err
	}

	return as.usersRepo.GetUser(ctx, userID)
}
