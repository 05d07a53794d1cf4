package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"
)

const postColumns = `id::text, title, content, icon, taste_score, appearance_score, smell_score, images, created_at, author_id::text`

// PsqlStore is the PostgreSQL backed store. Every operation is a single
// statement, integrity is enforced by the table constraints.
type PsqlStore struct {
	db *pgxpool.Pool
}

func NewPsqlStore(db *pgxpool.Pool) *PsqlStore {
	return &PsqlStore{
		db: db,
	}
}

// isUUID accepts the canonical lowercase form only. ids are uuid columns, so
// anything else would either fail to encode or match a row the other
// backends, which compare ids as strings, would not find.
func isUUID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func (s *PsqlStore) GetUser(ctx context.Context, id string) (_ *users.User, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.GetUser")
	defer end(&err)
	span.SetAttributes(attribute.String("user.id", id))

	if !isUUID(id) {
		return nil, nil
	}
	return s.getUser(ctx, `SELECT id::text, username, password FROM users WHERE id = $1`, id)
}

func (s *PsqlStore) GetUserByUsername(ctx context.Context, username string) (_ *users.User, err error) {
	ctx, _, end := tracing.StartSpan(ctx, "psqlStore.GetUserByUsername")
	defer end(&err)

	return s.getUser(ctx, `SELECT id::text, username, password FROM users WHERE username = $1`, username)
}

func (s *PsqlStore) getUser(ctx context.Context, query string, arg string) (*users.User, error) {
	var u users.User
	err := s.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &u, nil
}

func (s *PsqlStore) CreateUser(ctx context.Context, newUser users.NewUser) (_ *users.User, err error) {
	ctx, _, end := tracing.StartSpan(ctx, "psqlStore.CreateUser")
	defer end(&err)

	if err := newUser.Validate(); err != nil {
		return nil, err
	}

	u := users.User{
		Username:     newUser.Username,
		PasswordHash: newUser.PasswordHash,
	}
	err = s.db.QueryRow(
		ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id::text`,
		newUser.Username, newUser.PasswordHash,
	).Scan(&u.ID)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return nil, fmt.Errorf("%w: %s", users.ErrUsernameTaken, newUser.Username)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return &u, nil
}

func (s *PsqlStore) ListPosts(ctx context.Context) (_ []*blog.Post, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.ListPosts")
	defer end(&err)

	rows, err := s.db.Query(
		ctx,
		`SELECT `+postColumns+` FROM blog_posts ORDER BY created_at DESC, seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	posts := []*blog.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	return posts, nil
}

func (s *PsqlStore) GetPost(ctx context.Context, id string) (_ *blog.Post, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.GetPost")
	defer end(&err)
	span.SetAttributes(attribute.String("post.id", id))

	if !isUUID(id) {
		return nil, nil
	}

	post, err := scanPost(s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM blog_posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return post, err
}

func (s *PsqlStore) CreatePost(ctx context.Context, newPost blog.NewPost, authorID string) (_ *blog.Post, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.CreatePost")
	defer end(&err)
	span.SetAttributes(attribute.String("post.author_id", authorID))

	if err := newPost.Validate(); err != nil {
		return nil, err
	}
	if !isUUID(authorID) {
		return nil, fmt.Errorf("%w: %s", blog.ErrAuthorNotFound, authorID)
	}

	// id and created_at come from the column defaults
	p := newPost.ToPost("", authorID, time.Time{})
	post, err := scanPost(s.db.QueryRow(
		ctx,
		`INSERT INTO blog_posts (title, content, icon, taste_score, appearance_score, smell_score, images, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+postColumns,
		p.Title, p.Content, p.Icon, p.TasteScore, p.AppearanceScore, p.SmellScore, p.Images, p.AuthorID,
	))
	if err != nil {
		return nil, mapPostWriteError(err, authorID)
	}

	return post, nil
}

func (s *PsqlStore) UpdatePost(ctx context.Context, id string, update blog.PostUpdate) (_ *blog.Post, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.UpdatePost")
	defer end(&err)
	span.SetAttributes(attribute.String("post.id", id))

	if err := update.Validate(); err != nil {
		return nil, err
	}
	if !isUUID(id) {
		return nil, nil
	}

	if update.Icon != nil && *update.Icon == "" {
		defaultIcon := blog.DefaultIcon
		update.Icon = &defaultIcon
	}

	post, err := scanPost(s.db.QueryRow(
		ctx,
		`UPDATE blog_posts SET
			title = COALESCE($2, title),
			content = COALESCE($3, content),
			icon = COALESCE($4, icon),
			taste_score = COALESCE($5, taste_score),
			appearance_score = COALESCE($6, appearance_score),
			smell_score = COALESCE($7, smell_score),
			images = COALESCE($8, images)
		WHERE id = $1
		RETURNING `+postColumns,
		id,
		update.Title,
		update.Content,
		update.Icon,
		update.TasteScore,
		update.AppearanceScore,
		update.SmellScore,
		update.Images,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPostWriteError(err, "")
	}

	return post, nil
}

func (s *PsqlStore) DeletePost(ctx context.Context, id string) (_ bool, err error) {
	ctx, span, end := tracing.StartSpan(ctx, "psqlStore.DeletePost")
	defer end(&err)
	span.SetAttributes(attribute.String("post.id", id))

	if !isUUID(id) {
		return false, nil
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM blog_posts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Close is a no-op, the pool is owned by the server.
func (s *PsqlStore) Close() error {
	return nil
}

func scanPost(row pgx.Row) (*blog.Post, error) {
	var p blog.Post
	if err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Content,
		&p.Icon,
		&p.TasteScore,
		&p.AppearanceScore,
		&p.SmellScore,
		&p.Images,
		&p.CreatedAt,
		&p.AuthorID,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func mapPostWriteError(err error, authorID string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return err
	case pkg.IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: %s", blog.ErrAuthorNotFound, authorID)
	case pkg.IsCheckViolationError(err):
		return fmt.Errorf("%w: %s", blog.ErrInvalidPost, err)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}
