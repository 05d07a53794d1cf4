package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fettsack/geschmackstest/internal/storage"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"
)

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	origRead, origHash := readPassword, hashPassword
	t.Cleanup(func() {
		readPassword, hashPassword = origRead, origHash
	})

	hashPassword = func(password string) (string, error) {
		return pkg.HashPasswordWithCost(password, bcrypt.MinCost)
	}
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more answers")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func badgerConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "badger")
	return writeConfig(t, `
[development]
storage_backend = "badger"
badger_dir = "`+dir+`"
seed_username = "fettiger fettsack"
`)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := newApp(&out, &errOut).Run(append([]string{"blogctl"}, args...))
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	stubPasswords(t, "fettbeharrt")

	out, err := run(t, "hash-password")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	hash := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.True(t, pkg.CheckPasswordHash("fettbeharrt", hash))
}

func TestHashPassword_KeepsSurroundingSpaces(t *testing.T) {
	stubPasswords(t, "  fett beharrt ")

	out, err := run(t, "hash-password")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	hash := lines[len(lines)-1]
	assert.True(t, pkg.CheckPasswordHash("  fett beharrt ", hash))
	assert.False(t, pkg.CheckPasswordHash("fett beharrt", hash))
}

func TestHashPassword_Empty(t *testing.T) {
	stubPasswords(t, "")

	_, err := run(t, "hash-password")
	assert.EqualError(t, err, "password must not be empty")
}

func TestCreateUser_Badger(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	configPath := badgerConfig(t)

	stubPasswords(t, "geheim", "geheim")
	out, err := run(t, "--config", configPath, "create-user", "-u", "koch")
	require.NoError(t, err)
	assert.Contains(t, out, "user [koch] created")

	stubPasswords(t, "anders", "anders")
	_, err = run(t, "--config", configPath, "create-user", "-u", "koch")
	assert.ErrorIs(t, err, users.ErrUsernameTaken)
}

func TestCreateUser_PasswordWithSpacesCanLogIn(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := filepath.Join(t.TempDir(), "badger")
	configPath := writeConfig(t, `
[development]
storage_backend = "badger"
badger_dir = "`+dir+`"
`)

	stubPasswords(t, " geheim ", " geheim ")
	_, err := run(t, "--config", configPath, "create-user", "-u", "koch")
	require.NoError(t, err)

	store, err := storage.OpenBadgerStore(storage.BadgerOptions{Dir: dir})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	user, err := store.GetUserByUsername(context.Background(), "koch")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, pkg.CheckPasswordHash(" geheim ", user.PasswordHash))
}

func TestCreateUser_PasswordMismatch(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	configPath := badgerConfig(t)

	stubPasswords(t, "geheim", "geheimer")
	_, err := run(t, "--config", configPath, "create-user", "-u", "koch")
	assert.EqualError(t, err, "passwords do not match")
}

func TestSeed_Idempotent(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GESCHMACKSTEST_ADMIN_PASSWORD", "")
	configPath := badgerConfig(t)
	stubPasswords(t)

	first, err := run(t, "--config", configPath, "seed", "--password", "fettbeharrt")
	require.NoError(t, err)
	assert.Contains(t, first, "seed user [fettiger fettsack]")

	second, err := run(t, "--config", configPath, "seed", "--password", "fettbeharrt")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExportPosts_Empty(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	configPath := badgerConfig(t)

	out, err := run(t, "--config", configPath, "export-posts")
	require.NoError(t, err)

	var posts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &posts))
	assert.Empty(t, posts)
}

func TestMemoryBackendRejected(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	configPath := writeConfig(t, `
[development]
storage_backend = "memory"
`)

	_, err := run(t, "--config", configPath, "export-posts")
	assert.ErrorIs(t, err, errNoPersistentBackend)
}

func TestMigrate_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	for _, sub := range []string{"up", "down", "version"} {
		_, err := run(t, "migrate", sub)
		assert.ErrorIs(t, err, storage.ErrMissingDatabaseURL, sub)
	}
}
