package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/config"
	"github.com/fettsack/geschmackstest/internal/db"
	"github.com/fettsack/geschmackstest/internal/storage"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"
)

var errNoPersistentBackend = errors.New("memory storage backend keeps nothing to administer, configure postgres or badger")

// replaced in tests
var (
	readPassword = term.ReadPassword
	hashPassword = pkg.HashPassword
)

func promptPassword(c *cli.Context, prompt string) (string, error) {
	if _, err := fmt.Fprint(c.App.Writer, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.App.Writer)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	// kept verbatim, login compares the password as typed
	if len(pw) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(pw), nil
}

func openSQLDB(c *cli.Context) (*sql.DB, error) {
	databaseURL := c.String("database-url")
	if databaseURL == "" {
		return nil, storage.ErrMissingDatabaseURL
	}
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return sqlDB, nil
}

func migrateUpCommand(c *cli.Context) error {
	sqlDB, err := openSQLDB(c)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.MigrateUp(c.Context, sqlDB); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "migrations applied")
	return nil
}

func migrateDownCommand(c *cli.Context) error {
	sqlDB, err := openSQLDB(c)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.MigrateDown(c.Context, sqlDB); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "latest migration rolled back")
	return nil
}

func migrateVersionCommand(c *cli.Context) error {
	sqlDB, err := openSQLDB(c)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	version, err := db.MigrationVersion(c.Context, sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema version: %d\n", version)
	return nil
}

// openStore opens the configured persistent backend. The returned close func
// releases the store and, for postgres, its pool.
func openStore(c *cli.Context) (*config.Config, storage.Storage, func(), error) {
	cfg, err := config.Load(c.String("env"), c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}

	kind, err := storage.ResolveKind(cfg.StorageBackend, c.String("database-url"))
	if err != nil {
		return nil, nil, nil, err
	}
	if kind == storage.KindMemory {
		return nil, nil, nil, errNoPersistentBackend
	}

	var pool *pgxpool.Pool
	if kind == storage.KindPostgres {
		pool, err = db.NewDBPool(c.Context, db.NewDBPoolParams{ConnString: c.String("database-url")})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("new db pool: %w", err)
		}
	}

	store, err := storage.Open(c.Context, storage.OpenParams{
		Kind:   kind,
		DBPool: pool,
		Badger: storage.BadgerOptions{Dir: cfg.BadgerDir},
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Errorf("close store: %s", err)
		}
		if pool != nil {
			pool.Close()
		}
	}
	return cfg, store, closeFn, nil
}

func seedCommand(c *cli.Context) error {
	cfg, store, closeStore, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeStore()

	password := c.String("password")
	if password == "" {
		if password, err = promptPassword(c, "Password for "+cfg.SeedUsername+": "); err != nil {
			return err
		}
	}

	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := storage.EnsureUser(c.Context, store, storage.SeedUser{
		Username:     cfg.SeedUsername,
		PasswordHash: hash,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "seed user [%s]: %s\n", user.Username, user.ID)
	return nil
}

func createUserCommand(c *cli.Context) error {
	_, store, closeStore, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeStore()

	username := strings.TrimSpace(c.String("username"))
	password, err := promptPassword(c, "Password: ")
	if err != nil {
		return err
	}
	confirmation, err := promptPassword(c, "Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirmation {
		return errors.New("passwords do not match")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := store.CreateUser(c.Context, users.NewUser{
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		return fmt.Errorf("create user [%s]: %w", username, err)
	}
	fmt.Fprintf(c.App.Writer, "user [%s] created: %s\n", user.Username, user.ID)
	return nil
}

func hashPasswordCommand(c *cli.Context) error {
	password, err := promptPassword(c, "Password: ")
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

type exportedPost struct {
	*blog.Post
	OverallScore float64 `json:"overallScore"`
}

func exportPostsCommand(c *cli.Context) error {
	_, store, closeStore, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeStore()

	posts, err := store.ListPosts(c.Context)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	exported := make([]exportedPost, 0, len(posts))
	for _, p := range posts {
		exported = append(exported, exportedPost{Post: p, OverallScore: p.OverallScore()})
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(exported)
}
