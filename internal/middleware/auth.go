package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fettsack/geschmackstest/internal/auth"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test

type loginChecker interface {
	LoggedUserID(ctx context.Context, token string) (string, error)
}

type AuthMiddlewareHandler struct {
	loginChecker      loginChecker
	cookieCodec       *auth.CookieCodec
	protectedPrefixes []string
	protectedMethods  map[string]bool
}

func NewAuthMiddlewareHandler(
	loginChecker loginChecker,
	cookieCodec *auth.CookieCodec,
) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		loginChecker: loginChecker,
		cookieCodec:  cookieCodec,
		protectedPrefixes: []string{
			"/api/blog-posts",
		},
		protectedMethods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
	}
}

func (h *AuthMiddlewareHandler) isProtected(r *http.Request) bool {
	if !h.protectedMethods[r.Method] {
		return false
	}
	for _, prefix := range h.protectedPrefixes {
		if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
			return true
		}
	}
	return false
}

// AuthCheck rejects mutating blog post requests without a valid session,
// and puts the logged user id into the request context for the others.
func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, PUT, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if !h.isProtected(r) {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			token, err := h.cookieCodec.TokenFromRequest(r)
			if err != nil {
				log.Tracef("[missing session] [auth middleware] unauthorized => %s: %s", r.URL.Path, err)
				pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Nicht authentifiziert")
				span.SetStatus(codes.Error, "missing-session")
				return
			}

			userID, err := h.loginChecker.LoggedUserID(ctx, token)
			if err != nil {
				if errors.Is(err, auth.ErrNotLoggedIn) {
					log.Tracef("[invalid session] [auth middleware] unauthorized => %s", r.URL.Path)
					span.SetStatus(codes.Error, "not-logged")
				} else {
					log.Errorf("[failed login check] => %s: %s", r.URL.Path, err)
					span.SetStatus(codes.Error, "check-logged-err")
					span.RecordError(err)
				}
				pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Nicht authentifiziert")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(auth.ContextWithUserID(ctx, userID)))
		})
	}
}
