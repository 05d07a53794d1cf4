package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fettsack/geschmackstest/internal/telemetry/metrics"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type Handler struct {
	authService    *Service
	cookieCodec    *CookieCodec
	metricsManager *metrics.Manager
}

func NewHandler(
	authService *Service,
	cookieCodec *CookieCodec,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		authService:    authService,
		cookieCodec:    cookieCodec,
		metricsManager: metricsManager,
	}
}

// SetupRoutes registers the auth endpoints; loginMiddlewares wrap only the
// login route (e.g. rate limiting).
func (handler *Handler) SetupRoutes(router *mux.Router, loginMiddlewares ...mux.MiddlewareFunc) {
	var loginHandler http.Handler = http.HandlerFunc(handler.handleLogin)
	for i := len(loginMiddlewares) - 1; i >= 0; i-- {
		loginHandler = loginMiddlewares[i].Middleware(loginHandler)
	}

	router.Handle("/api/auth/login", loginHandler).Methods("POST", "OPTIONS").Name("login")
	router.HandleFunc("/api/auth/logout", handler.handleLogout).Methods("POST", "OPTIONS").Name("logout")
	router.HandleFunc("/api/auth/me", handler.handleMe).Methods("GET", "OPTIONS").Name("me")
}

type userResponse struct {
	User users.Public `json:"user"`
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var creds Credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			log.Debugf("login, parse form: %s", err)
			pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Eingabedaten")
			return
		}
		creds = Credentials{
			Username: r.Form.Get("username"),
			Password: r.Form.Get("password"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		log.Debugf("login, unmarshal json params: %s", err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Eingabedaten")
		return
	}

	if creds.Username == "" || creds.Password == "" {
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Eingabedaten")
		return
	}
	span.SetAttributes(attribute.String("login.username", creds.Username))

	session, user, err := handler.authService.Login(ctx, creds)
	if errors.Is(err, ErrInvalidCredentials) {
		log.Tracef("failed login attempt for user: %s", creds.Username)
		handler.metricsManager.CounterLogins.WithLabelValues("failed").Inc()
		pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Ungültige Anmeldedaten")
		return
	}
	if err != nil {
		log.Errorf("login failed: %s", err)
		handler.metricsManager.CounterLogins.WithLabelValues("error").Inc()
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Anmeldung fehlgeschlagen")
		return
	}

	if err := handler.cookieCodec.SetCookie(w, *session); err != nil {
		log.Errorf("login failed, set session cookie: %s", err)
		handler.metricsManager.CounterLogins.WithLabelValues("error").Inc()
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Anmeldung fehlgeschlagen")
		return
	}

	handler.metricsManager.CounterLogins.WithLabelValues("success").Inc()
	log.Tracef("login success for user: %s", user.Username)
	pkg.WriteJSONResponse(w, http.StatusOK, userResponse{User: user.Public()})
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.logout")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	// invalid or missing cookies still get cleared
	if token, err := handler.cookieCodec.TokenFromRequest(r); err == nil {
		if _, err := handler.authService.Logout(ctx, token); err != nil {
			log.Errorf("logout failed: %s", err)
			pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Abmeldung fehlgeschlagen")
			return
		}
	}

	handler.cookieCodec.ClearCookie(w)
	pkg.WriteJSONMessage(w, http.StatusOK, "Erfolgreich abgemeldet")
}

func (handler *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.me")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	token, err := handler.cookieCodec.TokenFromRequest(r)
	if err != nil {
		pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Nicht authentifiziert")
		return
	}

	user, err := handler.authService.CurrentUser(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotLoggedIn) {
			log.Errorf("get current user: %s", err)
		}
		pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Nicht authentifiziert")
		return
	}
	if user == nil {
		pkg.WriteJSONMessage(w, http.StatusNotFound, "Benutzer nicht gefunden")
		return
	}

	pkg.WriteJSONResponse(w, http.StatusOK, userResponse{User: user.Public()})
}
