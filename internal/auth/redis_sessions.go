package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	sessionKeyPrefix = "geschmackstest-session||"
	tokensSetKey     = "geschmackstest-sessions"

	fieldUserID    = "user_id"
	fieldCreatedAt = "created_at"
)

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisSessionStore keeps every session in a hash that expires after the
// session max age; a set of all tokens is kept for periodic cleanup.
type RedisSessionStore struct {
	redisClient *redis.Client
}

func NewRedisSessionStore(redisClient *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		redisClient: redisClient,
	}
}

func (rs *RedisSessionStore) Save(ctx context.Context, session Session, ttl time.Duration) error {
	sessionKey := sessionKeyPrefix + session.Token
	if err := rs.redisClient.HSet(
		ctx, sessionKey,
		fieldUserID, session.UserID,
		fieldCreatedAt, session.CreatedAt.Unix(),
	).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if err := rs.redisClient.Expire(ctx, sessionKey, ttl).Err(); err != nil {
		return fmt.Errorf("set session ttl: %w", err)
	}

	if err := rs.redisClient.SAdd(ctx, tokensSetKey, session.Token).Err(); err != nil {
		return fmt.Errorf("add session token: %w", err)
	}

	return nil
}

func (rs *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	values, err := rs.redisClient.HGetAll(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	createdAtUnix, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse session created at: %w", err)
	}

	return &Session{
		Token:     token,
		UserID:    values[fieldUserID],
		CreatedAt: time.Unix(createdAtUnix, 0),
	}, nil
}

func (rs *RedisSessionStore) Delete(ctx context.Context, token string) (bool, error) {
	removed, err := rs.redisClient.Del(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	if err := rs.redisClient.SRem(ctx, tokensSetKey, token).Err(); err != nil {
		return false, fmt.Errorf("remove session token: %w", err)
	}

	return removed > 0, nil
}

// ScanAndClean removes tokens of expired sessions from the tokens set and
// deletes sessions older than maxAge. Returns the number of removed tokens.
func (rs *RedisSessionStore) ScanAndClean(ctx context.Context, maxAge time.Duration) int {
	sessionTokens, err := rs.redisClient.SMembers(ctx, tokensSetKey).Result()
	if err != nil {
		log.Errorf("!!! session store, scan and clean, get sessions: %s", err)
		return 0
	}
	if len(sessionTokens) == 0 {
		log.Debugln("=> session store, scan and clean abort, no sessions")
		return 0
	}

	log.Debugf("=> session store, scan and clean [%d sessions] start ...", len(sessionTokens))
	var toRemove []string
	for _, token := range sessionTokens {
		createdAtUnixStr, err := rs.redisClient.HGet(ctx, sessionKeyPrefix+token, fieldCreatedAt).Result()
		if errors.Is(err, redis.Nil) {
			// hash expired, token still in the set
			toRemove = append(toRemove, token)
			continue
		}
		if err != nil {
			log.Errorf("=> session store, scan and clean token: %s", err)
			continue
		}

		createdAtUnix, err := strconv.ParseInt(createdAtUnixStr, 10, 64)
		if err != nil || time.Since(time.Unix(createdAtUnix, 0)) > maxAge {
			toRemove = append(toRemove, token)
		}
	}

	removed := 0
	for _, token := range toRemove {
		if _, err := rs.Delete(ctx, token); err != nil {
			log.Errorf("=> session store, clean token: %s", err)
			continue
		}
		removed++
	}

	return removed
}
