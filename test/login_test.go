//go:build integration_test || all_tests

package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestLogin() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := map[string]struct {
		username           string
		password           string
		expectedStatusCode int
	}{
		"good creds": {
			username:           testUsername,
			password:           testPassword,
			expectedStatusCode: http.StatusOK,
		},
		"bad password": {
			username:           testUsername,
			password:           "bad-password",
			expectedStatusCode: http.StatusUnauthorized,
		},
		"unknown user": {
			username:           "nobody",
			password:           testPassword,
			expectedStatusCode: http.StatusUnauthorized,
		},
		"empty password": {
			username:           testUsername,
			password:           "",
			expectedStatusCode: http.StatusBadRequest,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newAPIClient(t, serverEndpoint)
			assert.Equal(t, tc.expectedStatusCode, c.login(ctx, tc.username, tc.password))
		})
	}
}

func (s *IntegrationTestSuite) TestLoginMeLogout() {
	t := s.T()
	ctx := context.Background()

	c := newAPIClient(t, serverEndpoint)
	require.Equal(t, http.StatusOK, c.login(ctx, testUsername, testPassword))

	status, body := c.do(ctx, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	me := decode[struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}](t, body)
	assert.Equal(t, testUsername, me.User.Username)
	assert.NotEmpty(t, me.User.ID)

	// a second login is an independent session
	other := newAPIClient(t, serverEndpoint)
	require.Equal(t, http.StatusOK, other.login(ctx, testUsername, testPassword))

	status, body = c.do(ctx, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Erfolgreich abgemeldet", decode[messageResponse](t, body).Message)

	status, _ = c.do(ctx, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = other.do(ctx, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)
}

func (s *IntegrationTestSuite) TestLoginRateLimit() {
	t := s.T()
	ctx := context.Background()

	c := newAPIClient(t, serverEndpoint)
	c.headers["X-Real-Ip"] = "203.0.113.7"

	limit := getTestConfig("").LoginRateLimitAllowedPerMin
	for i := 0; i < limit; i++ {
		assert.Equal(t, http.StatusUnauthorized, c.login(ctx, testUsername, "bad-password"), "attempt %d", i)
	}

	status, body := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Zu viele Anfragen, bitte später erneut versuchen", decode[messageResponse](t, body).Message)
}
