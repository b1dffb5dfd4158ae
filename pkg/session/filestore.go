package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entrhq/rednote/pkg/logging"
)

const (
	filePrefix = "user_"
	fileSuffix = ".json"
)

// FileStore keeps one JSON file per user: <dir>/user_<id>.json.
// The directory is created on first write; a missing directory means no sessions.
type FileStore struct {
	dir    string
	locks  *userLocks
	logger *logging.Logger
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session: store directory is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileStore{dir: dir, locks: newUserLocks(), logger: logger}, nil
}

// Dir returns the root directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) pathForID(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	dir, err := filepath.Abs(fs.dir)
	if err != nil {
		return "", fmt.Errorf("session: abs dir: %w", err)
	}
	resolved := filepath.Join(dir, filePrefix+userID+fileSuffix)
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal for %q", ErrInvalidUserID, userID)
	}
	return resolved, nil
}

// Load reads the session for userID.
func (fs *FileStore) Load(_ context.Context, userID string) (*UserSession, error) {
	path, err := fs.pathForID(userID)
	if err != nil {
		return nil, err
	}
	return readSessionFile(path)
}

func readSessionFile(path string) (*UserSession, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var s UserSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", path, err)
	}
	s.normalize()
	return &s, nil
}

// Save writes the session atomically.
func (fs *FileStore) Save(_ context.Context, s *UserSession) error {
	if s == nil {
		return fmt.Errorf("session: nil session")
	}
	unlock := fs.locks.lock(s.UserID)
	defer unlock()
	return fs.write(s)
}

// write must be called with the user's lock held.
func (fs *FileStore) write(s *UserSession) error {
	path, err := fs.pathForID(s.UserID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("session: create directory: %w", err)
	}

	out := s.Clone()
	out.normalize()
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: atomic rename %s: %w", path, err)
	}
	return nil
}

// Update runs fn against the current session under the user's lock.
func (fs *FileStore) Update(ctx context.Context, userID string, fn func(s *UserSession) error) (*UserSession, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	unlock := fs.locks.lock(userID)
	defer unlock()

	current, err := fs.Load(ctx, userID)
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
	if err := fs.write(current); err != nil {
		return nil, err
	}
	return current, nil
}

// MarkExpired deactivates the session and clears its cookies.
func (fs *FileStore) MarkExpired(ctx context.Context, userID string) error {
	return markExpired(ctx, fs, userID)
}

// List returns all readable sessions. Corrupt files are skipped.
func (fs *FileStore) List(_ context.Context) ([]*UserSession, error) {
	entries, err := os.ReadDir(fs.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list %s: %w", fs.dir, err)
	}

	var out []*UserSession
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		s, err := readSessionFile(filepath.Join(fs.dir, name))
		if err != nil {
			fs.logger.Debugf("skipping unreadable session file %s: %v", name, err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Delete removes the user's session file.
func (fs *FileStore) Delete(_ context.Context, userID string) error {
	path, err := fs.pathForID(userID)
	if err != nil {
		return err
	}
	unlock := fs.locks.lock(userID)
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: delete %s: %w", path, err)
	}
	return nil
}
