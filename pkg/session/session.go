// Package session persists authenticated user identities (profile fields plus
// browser cookies) keyed by user id.
//
// Two backends are provided: FileStore keeps one JSON file per user and
// RedisStore keeps one JSON value per user. Both enforce the same invariant on
// every write: an inactive session never retains cookies.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/rednote/pkg/types"
)

var (
	// ErrNotFound is returned when no session is stored for a user id.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidUserID is returned for empty ids or ids that cannot be used as a key.
	ErrInvalidUserID = errors.New("session: invalid user id")
)

// UserSession is a persisted identity with its authentication cookies.
type UserSession struct {
	UserID      string         `json:"userId"`
	Nickname    string         `json:"nickname"`
	RedID       string         `json:"redId"`
	AvatarURL   string         `json:"avatar"`
	Description string         `json:"description"`
	Gender      int            `json:"gender"`
	Cookies     []types.Cookie `json:"cookies"`
	Active      bool           `json:"active"`
	LastLoginAt time.Time      `json:"lastLoginTime"`

	// fresh is set by Update when no session was stored.
	fresh bool
}

// Clone returns a deep copy of the session.
func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Cookies != nil {
		c.Cookies = append([]types.Cookie(nil), s.Cookies...)
	}
	return &c
}

// Expire marks the session inactive and drops its cookies.
func (s *UserSession) Expire(now time.Time) {
	s.Active = false
	s.Cookies = nil
	s.LastLoginAt = now
}

// normalize enforces the inactive-means-no-cookies invariant.
func (s *UserSession) normalize() {
	if !s.Active {
		s.Cookies = nil
	}
}

// Store persists user sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the session for userID or ErrNotFound.
	Load(ctx context.Context, userID string) (*UserSession, error)

	// Save creates or replaces the session.
	Save(ctx context.Context, s *UserSession) error

	// Update applies fn to the stored session (or a fresh one with only UserID
	// set when none exists) and saves the result while holding the user's lock.
	// An error from fn is returned unchanged and nothing is saved.
	Update(ctx context.Context, userID string, fn func(s *UserSession) error) (*UserSession, error)

	// MarkExpired sets active=false and clears cookies. Missing sessions are ignored.
	MarkExpired(ctx context.Context, userID string) error

	// List returns every stored session ordered by user id.
	List(ctx context.Context) ([]*UserSession, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error
}

// ValidateUserID rejects ids that are empty or could escape a key namespace.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

// markExpired is the shared MarkExpired implementation for stores. The
// existence check runs inside Update so a concurrent Delete is never undone.
func markExpired(ctx context.Context, st Store, userID string) error {
	_, err := st.Update(ctx, userID, func(s *UserSession) error {
		if s.fresh {
			return ErrNotFound
		}
		s.Expire(time.Now())
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
