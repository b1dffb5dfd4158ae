package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON string under <prefix><userId> and
// tracks known ids in the set <prefix>index.
type RedisStore struct {
	client *redis.Client
	prefix string
	locks  *userLocks
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, locks: newUserLocks()}
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix), nil
}

// Close closes the underlying client.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) key(userID string) string {
	return rs.prefix + userID
}

func (rs *RedisStore) indexKey() string {
	return rs.prefix + "index"
}

// Load fetches and decodes the session.
func (rs *RedisStore) Load(ctx context.Context, userID string) (*UserSession, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	val, err := rs.client.Get(ctx, rs.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", userID, err)
	}
	var s UserSession
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", userID, err)
	}
	s.normalize()
	return &s, nil
}

// Save stores the session and indexes its id.
func (rs *RedisStore) Save(ctx context.Context, s *UserSession) error {
	if s == nil {
		return fmt.Errorf("session: nil session")
	}
	if err := ValidateUserID(s.UserID); err != nil {
		return err
	}
	unlock := rs.locks.lock(s.UserID)
	defer unlock()
	return rs.write(ctx, s)
}

func (rs *RedisStore) write(ctx context.Context, s *UserSession) error {
	out := s.Clone()
	out.normalize()
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rs.key(s.UserID), b, 0)
		pipe.SAdd(ctx, rs.indexKey(), s.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis save %s: %w", s.UserID, err)
	}
	return nil
}

// Update runs fn against the current session under the user's lock.
func (rs *RedisStore) Update(ctx context.Context, userID string, fn func(s *UserSession) error) (*UserSession, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	unlock := rs.locks.lock(userID)
	defer unlock()

	current, err := rs.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		current = &UserSession{UserID: userID, fresh: true}
	} else if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.UserID = userID
	current.fresh = false
	current.normalize()
	if err := rs.write(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// MarkExpired deactivates the session and clears its cookies.
func (rs *RedisStore) MarkExpired(ctx context.Context, userID string) error {
	return markExpired(ctx, rs, userID)
}

// List returns every indexed session ordered by user id. Ids whose value has
// disappeared are dropped from the index.
func (rs *RedisStore) List(ctx context.Context) ([]*UserSession, error) {
	ids, err := rs.client.SMembers(ctx, rs.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis list: %w", err)
	}
	sort.Strings(ids)

	var out []*UserSession
	for _, id := range ids {
		s, err := rs.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = rs.client.SRem(ctx, rs.indexKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes the session and its index entry.
func (rs *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	unlock := rs.locks.lock(userID)
	defer unlock()

	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rs.key(userID))
		pipe.SRem(ctx, rs.indexKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis delete %s: %w", userID, err)
	}
	return nil
}
