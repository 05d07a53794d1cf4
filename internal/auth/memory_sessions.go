package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
)

// freecache enforces a minimum of 512 KB
const DefaultMemorySessionCacheSize = 1024 * 1024

var _ SessionStore = (*MemorySessionStore)(nil)

// MemorySessionStore keeps sessions in process memory, used when no redis is configured.
type MemorySessionStore struct {
	cache *freecache.Cache
}

func NewMemorySessionStore(sizeBytes int) *MemorySessionStore {
	return &MemorySessionStore{
		cache: freecache.NewCache(sizeBytes),
	}
}

func (ms *MemorySessionStore) Save(_ context.Context, session Session, ttl time.Duration) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// 0 would mean no expiry
	expireSeconds := int(ttl.Seconds())
	if expireSeconds < 1 {
		expireSeconds = 1
	}

	if err := ms.cache.Set([]byte(session.Token), sessionBytes, expireSeconds); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (ms *MemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	sessionBytes, err := ms.cache.Get([]byte(token))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(sessionBytes, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (ms *MemorySessionStore) Delete(_ context.Context, token string) (bool, error) {
	return ms.cache.Del([]byte(token)), nil
}
