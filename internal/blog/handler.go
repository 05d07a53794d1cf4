package blog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fettsack/geschmackstest/internal/auth"
	"github.com/fettsack/geschmackstest/internal/telemetry/metrics"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=blog

type postsRepo interface {
	ListPosts(ctx context.Context) ([]*Post, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	CreatePost(ctx context.Context, newPost NewPost, authorID string) (*Post, error)
	UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error)
	DeletePost(ctx context.Context, id string) (bool, error)
}

// postRequest is shared by create and update, absent fields stay nil.
type postRequest struct {
	Title           *string   `json:"title"`
	Content         *string   `json:"content"`
	Icon            *string   `json:"icon"`
	TasteScore      *float64  `json:"tasteScore"`
	AppearanceScore *float64  `json:"appearanceScore"`
	SmellScore      *float64  `json:"smellScore"`
	Images          *[]string `json:"images"`
}

func (req postRequest) toNewPost() (NewPost, error) {
	var missing []string
	if req.Title == nil {
		missing = append(missing, "title")
	}
	if req.Content == nil {
		missing = append(missing, "content")
	}
	if req.TasteScore == nil {
		missing = append(missing, "tasteScore")
	}
	if req.AppearanceScore == nil {
		missing = append(missing, "appearanceScore")
	}
	if req.SmellScore == nil {
		missing = append(missing, "smellScore")
	}
	if len(missing) > 0 {
		return NewPost{}, fmt.Errorf("%w: missing %v", ErrInvalidPost, missing)
	}

	newPost := NewPost{
		Title:           *req.Title,
		Content:         *req.Content,
		TasteScore:      *req.TasteScore,
		AppearanceScore: *req.AppearanceScore,
		SmellScore:      *req.SmellScore,
	}
	if req.Icon != nil {
		newPost.Icon = *req.Icon
	}
	if req.Images != nil {
		newPost.Images = *req.Images
	}

	return newPost, newPost.Validate()
}

func (req postRequest) toUpdate() (PostUpdate, error) {
	update := PostUpdate{
		Title:           req.Title,
		Content:         req.Content,
		Icon:            req.Icon,
		TasteScore:      req.TasteScore,
		AppearanceScore: req.AppearanceScore,
		SmellScore:      req.SmellScore,
		Images:          req.Images,
	}
	return update, update.Validate()
}

// postResponse adds the derived overall score to the stored fields.
type postResponse struct {
	*Post
	OverallScore float64 `json:"overallScore"`
}

func newPostResponse(p *Post) postResponse {
	return postResponse{Post: p, OverallScore: p.OverallScore()}
}

type Handler struct {
	repo           postsRepo
	metricsManager *metrics.Manager
}

func NewBlogHandler(
	repo postsRepo,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		repo:           repo,
		metricsManager: metricsManager,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/api/blog-posts", handler.handleList).Methods("GET").Name("list-posts")
	router.HandleFunc("/api/blog-posts", handler.handleCreate).Methods("POST", "OPTIONS").Name("new-post")
	router.HandleFunc("/api/blog-posts/{id}", handler.handleGet).Methods("GET").Name("get-post")
	router.HandleFunc("/api/blog-posts/{id}", handler.handleUpdate).Methods("PUT", "OPTIONS").Name("update-post")
	router.HandleFunc("/api/blog-posts/{id}", handler.handleDelete).Methods("DELETE").Name("delete-post")
}

func (handler *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.list")
	defer span.End()

	posts, err := handler.repo.ListPosts(ctx)
	if err != nil {
		log.Errorf("list blog posts: %s", err)
		span.RecordError(err)
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Fehler beim Laden der Blog-Posts")
		return
	}

	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, newPostResponse(p))
	}
	span.SetAttributes(attribute.Int("posts.count", len(resp)))

	pkg.WriteJSONResponse(w, http.StatusOK, resp)
}

func (handler *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.get")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("post.id", id))

	post, err := handler.repo.GetPost(ctx, id)
	if err != nil {
		log.Errorf("get blog post %s: %s", id, err)
		span.RecordError(err)
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Fehler beim Laden des Blog-Posts")
		return
	}
	if post == nil {
		pkg.WriteJSONMessage(w, http.StatusNotFound, "Blog-Post nicht gefunden")
		return
	}

	pkg.WriteJSONResponse(w, http.StatusOK, newPostResponse(post))
}

func (handler *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.create")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	authorID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		pkg.WriteJSONMessage(w, http.StatusUnauthorized, "Nicht authentifiziert")
		return
	}

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debugf("new blog post, unmarshal json: %s", err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}

	newPost, err := req.toNewPost()
	if err != nil {
		log.Debugf("new blog post, invalid: %s", err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}

	post, err := handler.repo.CreatePost(ctx, newPost, authorID)
	if errors.Is(err, ErrInvalidPost) || errors.Is(err, ErrAuthorNotFound) {
		log.Debugf("new blog post rejected: %s", err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}
	if err != nil {
		log.Errorf("add new blog post failed: %s", err)
		span.RecordError(err)
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Fehler beim Erstellen des Blog-Posts")
		return
	}

	handler.metricsManager.CounterPostsCreated.Inc()
	span.SetAttributes(attribute.String("post.id", post.ID))
	log.Tracef("new blog post %s: [%s] added", post.ID, post.Title)

	pkg.WriteJSONResponse(w, http.StatusCreated, newPostResponse(post))
}

func (handler *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.update")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, PUT, DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("post.id", id))

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debugf("update blog post, unmarshal json: %s", err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}

	update, err := req.toUpdate()
	if err != nil {
		log.Debugf("update blog post %s, invalid: %s", id, err)
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}

	post, err := handler.repo.UpdatePost(ctx, id, update)
	if errors.Is(err, ErrInvalidPost) {
		pkg.WriteJSONMessage(w, http.StatusBadRequest, "Ungültige Blog-Post Daten")
		return
	}
	if err != nil {
		log.Errorf("update blog post %s failed: %s", id, err)
		span.RecordError(err)
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Fehler beim Aktualisieren des Blog-Posts")
		return
	}
	if post == nil {
		pkg.WriteJSONMessage(w, http.StatusNotFound, "Blog-Post nicht gefunden")
		return
	}

	handler.metricsManager.CounterPostsUpdated.Inc()
	log.Tracef("blog post %s updated", id)

	pkg.WriteJSONResponse(w, http.StatusOK, newPostResponse(post))
}

func (handler *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.delete")
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("post.id", id))

	deleted, err := handler.repo.DeletePost(ctx, id)
	if err != nil {
		log.Errorf("delete blog post %s failed: %s", id, err)
		span.RecordError(err)
		pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Fehler beim Löschen des Blog-Posts")
		return
	}
	if !deleted {
		pkg.WriteJSONMessage(w, http.StatusNotFound, "Blog-Post nicht gefunden")
		return
	}

	handler.metricsManager.CounterPostsDeleted.Inc()
	log.Tracef("blog post %s deleted", id)

	pkg.WriteJSONMessage(w, http.StatusOK, "Blog-Post erfolgreich gelöscht")
}
