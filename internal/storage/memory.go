package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/users"
)

type memPost struct {
	post *blog.Post
	seq  uint64
}

// MemoryStore keeps all entities in maps for the lifetime of the process.
type MemoryStore struct {
	mutex     sync.RWMutex
	users     map[string]*users.User
	usernames map[string]string // username -> user id
	posts     map[string]*memPost

	seq           uint64
	lastCreatedAt time.Time

	now   func() time.Time
	newID func() string
}

// NewMemoryStore creates an empty store holding only the seed user.
func NewMemoryStore(seed SeedUser) *MemoryStore {
	s := &MemoryStore{
		users:     map[string]*users.User{},
		usernames: map[string]string{},
		posts:     map[string]*memPost{},
		now:       time.Now,
		newID:     uuid.NewString,
	}

	if seed.IsSet() {
		u := &users.User{
			ID:           s.newID(),
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
		}
		s.users[u.ID] = u
		s.usernames[u.Username] = u.ID
		log.Debugf("memory store: seed user [%s] created: %s", u.Username, u.ID)
	}

	return s
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*users.User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.users[id].Copy(), nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*users.User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, nil
	}
	return s.users[id].Copy(), nil
}

func (s *MemoryStore) CreateUser(_ context.Context, newUser users.NewUser) (*users.User, error) {
	if err := newUser.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, taken := s.usernames[newUser.Username]; taken {
		return nil, fmt.Errorf("%w: %s", users.ErrUsernameTaken, newUser.Username)
	}

	u := &users.User{
		ID:           s.newID(),
		Username:     newUser.Username,
		PasswordHash: newUser.PasswordHash,
	}
	s.users[u.ID] = u
	s.usernames[u.Username] = u.ID

	return u.Copy(), nil
}

// ListPosts returns newest posts first, equal timestamps ordered by latest insertion.
func (s *MemoryStore) ListPosts(_ context.Context) ([]*blog.Post, error) {
	s.mutex.RLock()
	entries := make([]*memPost, 0, len(s.posts))
	for _, mp := range s.posts {
		entries = append(entries, mp)
	}
	s.mutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].post.CreatedAt, entries[j].post.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].seq > entries[j].seq
	})

	posts := make([]*blog.Post, 0, len(entries))
	for _, mp := range entries {
		// stored posts are never mutated in place, copying outside the lock is safe
		posts = append(posts, mp.post.Copy())
	}
	return posts, nil
}

func (s *MemoryStore) GetPost(_ context.Context, id string) (*blog.Post, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	mp, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	return mp.post.Copy(), nil
}

func (s *MemoryStore) CreatePost(_ context.Context, newPost blog.NewPost, authorID string) (*blog.Post, error) {
	if err := newPost.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.users[authorID]; !ok {
		return nil, fmt.Errorf("%w: %s", blog.ErrAuthorNotFound, authorID)
	}

	createdAt := s.now().UTC().Round(0)
	if createdAt.Before(s.lastCreatedAt) {
		createdAt = s.lastCreatedAt
	}
	s.lastCreatedAt = createdAt
	s.seq++

	post := newPost.ToPost(s.newID(), authorID, createdAt)
	s.posts[post.ID] = &memPost{post: post, seq: s.seq}

	return post.Copy(), nil
}

func (s *MemoryStore) UpdatePost(_ context.Context, id string, update blog.PostUpdate) (*blog.Post, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	mp, ok := s.posts[id]
	if !ok {
		return nil, nil
	}

	updated := mp.post.Copy()
	update.ApplyTo(updated)
	s.posts[id] = &memPost{post: updated, seq: mp.seq}

	return updated.Copy(), nil
}

func (s *MemoryStore) DeletePost(_ context.Context, id string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.posts[id]; !ok {
		return false, nil
	}
	delete(s.posts, id)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
