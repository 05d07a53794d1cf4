//go:build integration_test || all_tests

package test

import (
	"context"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Icon            string    `json:"icon"`
	TasteScore      float64   `json:"tasteScore"`
	AppearanceScore float64   `json:"appearanceScore"`
	SmellScore      float64   `json:"smellScore"`
	Images          []string  `json:"images"`
	CreatedAt       time.Time `json:"createdAt"`
	AuthorID        string    `json:"authorId"`
	OverallScore    float64   `json:"overallScore"`
}

func (s *IntegrationTestSuite) TestBlogPosts_DoenerTest() {
	t := s.T()
	ctx := context.Background()

	author := newAPIClient(t, serverEndpoint)
	visitor := newAPIClient(t, serverEndpoint)
	require.Equal(t, http.StatusOK, author.login(ctx, testUsername, testPassword))

	status, body := author.do(ctx, http.MethodPost, "/api/blog-posts", map[string]any{
		"title":           "Döner Test",
		"content":         "Knuspriges Brot, frischer Salat.",
		"tasteScore":      9,
		"appearanceScore": 7,
		"smellScore":      8,
		"images":          []string{"https://example.org/doener.jpg"},
	})
	require.Equal(t, http.StatusCreated, status)
	created := decode[postResponse](t, body)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 8.0, created.OverallScore)
	assert.Equal(t, "fas fa-utensils", created.Icon)
	assert.Equal(t, []string{"https://example.org/doener.jpg"}, created.Images)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	status, body = visitor.do(ctx, http.MethodGet, "/api/blog-posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	fetched := decode[postResponse](t, body)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, created.AuthorID, fetched.AuthorID)
	assert.True(t, created.CreatedAt.Equal(fetched.CreatedAt))

	status, _ = visitor.do(ctx, http.MethodDelete, "/api/blog-posts/"+created.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = visitor.do(ctx, http.MethodPut, "/api/blog-posts/"+created.ID, map[string]any{"title": "gekapert"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = author.do(ctx, http.MethodPut, "/api/blog-posts/"+created.ID, map[string]any{"smellScore": 5})
	require.Equal(t, http.StatusOK, status)
	updated := decode[postResponse](t, body)
	assert.Equal(t, "Döner Test", updated.Title)
	assert.Equal(t, 7.0, updated.OverallScore)

	status, _ = author.do(ctx, http.MethodPut, "/api/blog-posts/"+created.ID, map[string]any{"tasteScore": 11})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = author.do(ctx, http.MethodDelete, "/api/blog-posts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = visitor.do(ctx, http.MethodGet, "/api/blog-posts/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Blog-Post nicht gefunden", decode[messageResponse](t, body).Message)
}

func (s *IntegrationTestSuite) TestBlogPosts_ListNewestFirst() {
	t := s.T()
	ctx := context.Background()

	author := newAPIClient(t, serverEndpoint)
	require.Equal(t, http.StatusOK, author.login(ctx, testUsername, testPassword))

	var titles []string
	for i := 0; i < 5; i++ {
		title := gofakeit.Sentence(3)
		status, _ := author.do(ctx, http.MethodPost, "/api/blog-posts", map[string]any{
			"title":           title,
			"content":         gofakeit.Paragraph(1, 3, 10, " "),
			"tasteScore":      gofakeit.Number(0, 10),
			"appearanceScore": gofakeit.Number(0, 10),
			"smellScore":      gofakeit.Number(0, 10),
		})
		require.Equal(t, http.StatusCreated, status)
		titles = append([]string{title}, titles...)
	}

	status, body := newAPIClient(t, serverEndpoint).do(ctx, http.MethodGet, "/api/blog-posts", nil)
	require.Equal(t, http.StatusOK, status)
	posts := decode[[]postResponse](t, body)
	require.Len(t, posts, len(titles))
	for i, p := range posts {
		assert.Equal(t, titles[i], p.Title)
	}
}

func (s *IntegrationTestSuite) TestBlogPosts_ValidationAndUnknown() {
	t := s.T()
	ctx := context.Background()

	author := newAPIClient(t, serverEndpoint)
	require.Equal(t, http.StatusOK, author.login(ctx, testUsername, testPassword))

	status, body := author.do(ctx, http.MethodPost, "/api/blog-posts", map[string]any{
		"title":   "ohne Bewertung",
		"content": "...",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Ungültige Blog-Post Daten", decode[messageResponse](t, body).Message)

	status, _ = author.do(ctx, http.MethodPut, "/api/blog-posts/does-not-exist", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = author.do(ctx, http.MethodDelete, "/api/blog-posts/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
