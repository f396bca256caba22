package accounts

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const (
	defaultWALDir    = "./wal/accounts"
	walSegmentLimit  = 1000
	walMaxSegments   = 100
	accountKeyPrefix = "account_"
)

// WALStore appends every account write to a WAL. The latest record of a user wins;
// the index of latest records is rebuilt from the log on open.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	latest map[string]domain.Account
}

// NewWALStore opens or creates the WAL under dir and replays it.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "account_",
		SegmentThreshold: walSegmentLimit,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init account WAL")
	}

	s := &WALStore{wal: wal, latest: make(map[string]domain.Account)}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStore) replay() error {
	if s.wal.CurrentIndex() == 0 {
		return nil
	}
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, accountKeyPrefix) {
			continue
		}
		r, err := decodeRecord(msg.Value)
		if err != nil {
			return errors.Wrapf(err, "replay %s", msg.Key)
		}
		s.latest[r.UserID] = r.Account
	}
	return nil
}

func (s *WALStore) ReadAccount(_ context.Context, userID string) (domain.Account, error) {
	if err := validateUserID(userID); err != nil {
		return domain.Account{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.latest[userID]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *WALStore) WriteAccount(_ context.Context, userID string, acc domain.Account) error {
	if s == nil || s.wal == nil {
		return errors.New("account WAL is not initialized")
	}
	if err := validateUserID(userID); err != nil {
		return err
	}
	payload, err := encodeRecord(userID, acc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Write(s.wal.CurrentIndex()+1, accountKeyPrefix+userID, payload); err != nil {
		return errors.Wrap(err, "append account")
	}
	s.latest[userID] = acc.Clone()
	return nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("account WAL is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
