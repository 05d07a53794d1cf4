package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SessionCookieName = "geschmackstest.sid"

var (
	ErrMissingSecret = errors.New("session secret not set")
	ErrInvalidCookie = errors.New("invalid session cookie")
)

// CookieCodec signs the session token into the cookie value, so that
// tampered cookies are rejected before the session store is consulted.
type CookieCodec struct {
	secret []byte
	maxAge time.Duration
	secure bool
	now    func() time.Time
}

func NewCookieCodec(secret string, maxAge time.Duration, secure bool) (*CookieCodec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &CookieCodec{
		secret: []byte(secret),
		maxAge: maxAge,
		secure: secure,
		now:    time.Now,
	}, nil
}

func (c *CookieCodec) Encode(session Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        session.Token,
		Subject:   session.UserID,
		IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(session.CreatedAt.Add(c.maxAge)),
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies the cookie value and returns the session token in it.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}
	if !token.Valid || claims.ID == "" {
		return "", ErrInvalidCookie
	}

	return claims.ID, nil
}

func (c *CookieCodec) SetCookie(w http.ResponseWriter, session Session) error {
	value, err := c.Encode(session)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  session.CreatedAt.Add(c.maxAge),
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *CookieCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token carried by the request cookie.
// http.ErrNoCookie is returned when there is none.
func (c *CookieCodec) TokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	if cookie.Value == "" {
		return "", http.ErrNoCookie
	}
	return c.Decode(cookie.Value)
}
