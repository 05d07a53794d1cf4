package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"testing"

	"github.com/stretchr/testify/require"
)

// apiClient keeps the session cookie between requests like a browser would.
type apiClient struct {
	t        *testing.T
	endpoint string
	client   *http.Client
	headers  map[string]string
}

func newAPIClient(t *testing.T, endpoint string) *apiClient {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{
		t:        t,
		endpoint: endpoint,
		client:   &http.Client{Jar: jar},
		headers:  map[string]string{},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (int, []byte) {
	c.t.Helper()

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(c.t, err)
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	require.NoError(c.t, err)
	req.Header.Set("User-Agent", "test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, respBytes
}

func (c *apiClient) login(ctx context.Context, username, password string) int {
	c.t.Helper()
	status, _ := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	return status
}

type messageResponse struct {
	Message string `json:"message"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}
