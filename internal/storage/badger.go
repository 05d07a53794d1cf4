package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/telemetry/tracing"
	"github.com/fettsack/geschmackstest/internal/users"
)

var (
	userPrefix     = []byte("user/")
	usernamePrefix = []byte("username/")
	postPrefix     = []byte("post/")
	postSeqKey     = []byte("meta/post_seq")
	lastCreatedKey = []byte("meta/last_created_at")
)

const maxTxnRetries = 5

type BadgerOptions struct {
	Dir      string
	InMemory bool
}

type badgerPost struct {
	Post blog.Post `json:"post"`
	Seq  uint64    `json:"seq"`
}

// BadgerStore keeps entities in an embedded badger database, one
// transaction per operation.
type BadgerStore struct {
	db    *badger.DB
	now   func() time.Time
	newID func() string
}

func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if opts.Dir == "" {
		return nil, errors.New("badger dir not set")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return NewBadgerStore(db), nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func key(prefix []byte, id string) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

// update retries fn on transaction conflicts
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		log.Tracef("badger store: txn conflict, retry %d", i+1)
	}
	return err
}

func getJSON(txn *badger.Txn, k []byte, v any) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, b)
}

type badgerUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

func (s *BadgerStore) getUserTxn(txn *badger.Txn, id string) (*users.User, error) {
	var bu badgerUser
	found, err := getJSON(txn, key(userPrefix, id), &bu)
	if err != nil || !found {
		return nil, err
	}
	return &users.User{ID: bu.ID, Username: bu.Username, PasswordHash: bu.PasswordHash}, nil
}

func (s *BadgerStore) GetUser(ctx context.Context, id string) (u *users.User, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.GetUser")
	defer end(&err)

	err = s.db.View(func(txn *badger.Txn) error {
		u, err = s.getUserTxn(txn, id)
		return err
	})
	return u, err
}

func (s *BadgerStore) GetUserByUsername(ctx context.Context, username string) (u *users.User, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.GetUserByUsername")
	defer end(&err)

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(usernamePrefix, username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		u, err = s.getUserTxn(txn, string(id))
		return err
	})
	return u, err
}

func (s *BadgerStore) CreateUser(ctx context.Context, newUser users.NewUser) (_ *users.User, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.CreateUser")
	defer end(&err)

	if err := newUser.Validate(); err != nil {
		return nil, err
	}

	u := &users.User{
		ID:           s.newID(),
		Username:     newUser.Username,
		PasswordHash: newUser.PasswordHash,
	}
	err = s.update(func(txn *badger.Txn) error {
		nameKey := key(usernamePrefix, u.Username)
		_, err := txn.Get(nameKey)
		if err == nil {
			return fmt.Errorf("%w: %s", users.ErrUsernameTaken, u.Username)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(nameKey, []byte(u.ID)); err != nil {
			return err
		}
		return setJSON(txn, key(userPrefix, u.ID), badgerUser{
			ID:           u.ID,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
		})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *BadgerStore) ListPosts(ctx context.Context) (_ []*blog.Post, err error) {
	_, span, end := tracing.StartSpan(ctx, "badgerStore.ListPosts")
	defer end(&err)

	var entries []badgerPost
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(postPrefix); it.ValidForPrefix(postPrefix); it.Next() {
			var bp badgerPost
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bp)
			}); err != nil {
				return err
			}
			entries = append(entries, bp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].Post.CreatedAt, entries[j].Post.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].Seq > entries[j].Seq
	})

	posts := make([]*blog.Post, 0, len(entries))
	for i := range entries {
		posts = append(posts, entries[i].Post.Copy())
	}
	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	return posts, nil
}

func (s *BadgerStore) GetPost(ctx context.Context, id string) (p *blog.Post, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.GetPost")
	defer end(&err)

	err = s.db.View(func(txn *badger.Txn) error {
		var bp badgerPost
		found, err := getJSON(txn, key(postPrefix, id), &bp)
		if err != nil || !found {
			return err
		}
		p = bp.Post.Copy()
		return nil
	})
	return p, err
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	var seq uint64
	item, err := txn.Get(postSeqKey)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt post sequence value of %d bytes", len(val))
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return seq, txn.Set(postSeqKey, buf)
}

// monotonicCreatedAt never returns a time before the last created post,
// so a clock stepping back cannot list a newer post after an older one.
func monotonicCreatedAt(txn *badger.Txn, now time.Time) (time.Time, error) {
	item, err := txn.Get(lastCreatedKey)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt last created value of %d bytes", len(val))
			}
			last := time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
			if now.Before(last) {
				now = last
			}
			return nil
		}); err != nil {
			return time.Time{}, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return time.Time{}, err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(now.UnixNano()))
	return now, txn.Set(lastCreatedKey, buf)
}

func (s *BadgerStore) CreatePost(ctx context.Context, newPost blog.NewPost, authorID string) (p *blog.Post, err error) {
	_, span, end := tracing.StartSpan(ctx, "badgerStore.CreatePost")
	defer end(&err)
	span.SetAttributes(attribute.String("post.author_id", authorID))

	if err := newPost.Validate(); err != nil {
		return nil, err
	}

	err = s.update(func(txn *badger.Txn) error {
		author, err := s.getUserTxn(txn, authorID)
		if err != nil {
			return err
		}
		if author == nil {
			return fmt.Errorf("%w: %s", blog.ErrAuthorNotFound, authorID)
		}

		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}

		createdAt, err := monotonicCreatedAt(txn, s.now().UTC().Round(0))
		if err != nil {
			return err
		}

		post := newPost.ToPost(s.newID(), authorID, createdAt)
		if err := setJSON(txn, key(postPrefix, post.ID), badgerPost{Post: *post, Seq: seq}); err != nil {
			return err
		}
		p = post
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.Copy(), nil
}

func (s *BadgerStore) UpdatePost(ctx context.Context, id string, update blog.PostUpdate) (p *blog.Post, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.UpdatePost")
	defer end(&err)

	if err := update.Validate(); err != nil {
		return nil, err
	}

	err = s.update(func(txn *badger.Txn) error {
		p = nil
		var bp badgerPost
		found, err := getJSON(txn, key(postPrefix, id), &bp)
		if err != nil || !found {
			return err
		}

		update.ApplyTo(&bp.Post)
		if err := setJSON(txn, key(postPrefix, id), bp); err != nil {
			return err
		}
		p = bp.Post.Copy()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BadgerStore) DeletePost(ctx context.Context, id string) (deleted bool, err error) {
	_, _, end := tracing.StartSpan(ctx, "badgerStore.DeletePost")
	defer end(&err)

	err = s.update(func(txn *badger.Txn) error {
		deleted = false
		k := key(postPrefix, id)
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
