package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/users"
)

var ErrMissingDatabaseURL = errors.New("DATABASE_URL not set, required by the postgres storage backend")

// Storage is the backend independent entity store.
// Lookups return a nil entity and a nil error when nothing matches;
// errors are reserved for invalid input and backend failures.
type Storage interface {
	GetUser(ctx context.Context, id string) (*users.User, error)
	GetUserByUsername(ctx context.Context, username string) (*users.User, error)
	CreateUser(ctx context.Context, newUser users.NewUser) (*users.User, error)

	ListPosts(ctx context.Context) ([]*blog.Post, error)
	GetPost(ctx context.Context, id string) (*blog.Post, error)
	CreatePost(ctx context.Context, newPost blog.NewPost, authorID string) (*blog.Post, error)
	// UpdatePost overlays the set fields of update, returns nil if id is unknown.
	UpdatePost(ctx context.Context, id string, update blog.PostUpdate) (*blog.Post, error)
	// DeletePost reports whether a post was removed.
	DeletePost(ctx context.Context, id string) (bool, error)

	Close() error
}

var (
	_ Storage = (*MemoryStore)(nil)
	_ Storage = (*PsqlStore)(nil)
	_ Storage = (*BadgerStore)(nil)
)

type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
	KindBadger   Kind = "badger"
)

// ResolveKind picks the backend from the configured name. With no name
// configured, a set databaseURL selects postgres and memory is used otherwise.
func ResolveKind(configured, databaseURL string) (Kind, error) {
	var kind Kind
	switch strings.ToLower(strings.TrimSpace(configured)) {
	case "":
		if databaseURL != "" {
			return KindPostgres, nil
		}
		return KindMemory, nil
	case "memory", "mem":
		kind = KindMemory
	case "postgres", "postgresql", "psql":
		kind = KindPostgres
	case "badger":
		kind = KindBadger
	default:
		return "", fmt.Errorf("unknown storage backend: %s", configured)
	}

	if kind == KindPostgres && databaseURL == "" {
		return "", ErrMissingDatabaseURL
	}
	return kind, nil
}

// SeedUser is the operator account created at bootstrap.
type SeedUser struct {
	Username     string
	PasswordHash string
}

func (s SeedUser) IsSet() bool {
	return s.Username != "" && s.PasswordHash != ""
}

type OpenParams struct {
	Kind   Kind
	Seed   SeedUser
	DBPool *pgxpool.Pool
	Badger BadgerOptions
}

// Open creates the store for params.Kind and makes sure the seed user exists.
func Open(ctx context.Context, params OpenParams) (Storage, error) {
	var (
		store Storage
		err   error
	)

	switch params.Kind {
	case KindMemory:
		return NewMemoryStore(params.Seed), nil
	case KindPostgres:
		if params.DBPool == nil {
			return nil, errors.New("postgres storage backend requires a db pool")
		}
		store = NewPsqlStore(params.DBPool)
	case KindBadger:
		store, err = OpenBadgerStore(params.Badger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", params.Kind)
	}

	if params.Seed.IsSet() {
		if _, err := EnsureUser(ctx, store, params.Seed); err != nil {
			if closeErr := store.Close(); closeErr != nil {
				log.Errorf("close %s store after failed seed: %s", params.Kind, closeErr)
			}
			return nil, fmt.Errorf("seed user: %w", err)
		}
	}

	return store, nil
}

// EnsureUser creates the seed user unless a user with that name already exists.
func EnsureUser(ctx context.Context, store Storage, seed SeedUser) (*users.User, error) {
	existing, err := store.GetUserByUsername(ctx, seed.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debugf("seed user [%s] already exists", seed.Username)
		return existing, nil
	}

	user, err := store.CreateUser(ctx, users.NewUser{
		Username:     seed.Username,
		PasswordHash: seed.PasswordHash,
	})
	if errors.Is(err, users.ErrUsernameTaken) {
		// created concurrently
		return store.GetUserByUsername(ctx, seed.Username)
	}
	if err != nil {
		return nil, err
	}

	log.Infof("seed user [%s] created: %s", user.Username, user.ID)
	return user, nil
}
