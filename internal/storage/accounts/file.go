package accounts

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const (
	defaultFileDir = "./data/accounts"
	maxFileName    = 255
)

// FileStore keeps one JSON document per user and replaces it atomically via a temp file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = defaultFileDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create account dir")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) ReadAccount(_ context.Context, userID string) (domain.Account, error) {
	path, err := s.path(userID)
	if err != nil {
		return domain.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, errors.Wrap(err, "read account")
	}
	if len(payload) == 0 {
		return domain.Account{}, ErrNotFound
	}

	r, err := decodeRecord(payload)
	if err != nil {
		return domain.Account{}, err
	}
	if r.UserID != userID {
		return domain.Account{}, errors.Errorf("account file %s belongs to user %q", filepath.Base(path), r.UserID)
	}
	return r.Account, nil
}

func (s *FileStore) WriteAccount(_ context.Context, userID string, acc domain.Account) error {
	path, err := s.path(userID)
	if err != nil {
		return err
	}
	payload, err := encodeRecord(userID, acc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write account temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "persist account")
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(userID string) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	name := fileName(userID)
	if len(name) > maxFileName {
		return "", errors.Errorf("user id %q is too long", userID)
	}
	return filepath.Join(s.dir, name), nil
}

// fileName maps user ids to file names one to one. Ids made only of lower-case letters,
// digits and '-' are used as is. Other ids get "_" and their hex form appended to the
// sanitized prefix, so the two forms never meet.
func fileName(userID string) string {
	name := sanitizeUserID(userID)
	if name != userID || strings.Contains(userID, "_") {
		name += "_" + hex.EncodeToString([]byte(userID))
	}
	return fmt.Sprintf("%s.json", name)
}

func sanitizeUserID(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
