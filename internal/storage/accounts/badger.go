package accounts

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const defaultBadgerDir = "./data/badger"

// BadgerStore keeps accounts in a Badger key-value database keyed by user id.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database under dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		dir = defaultBadgerDir
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// NewMemoryStore is a Badger store that lives in memory only.
func NewMemoryStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) ReadAccount(_ context.Context, userID string) (domain.Account, error) {
	if err := validateUserID(userID); err != nil {
		return domain.Account{}, err
	}

	var r record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Account{}, ErrNotFound
	}
	if err != nil {
		return domain.Account{}, errors.Wrap(err, "read account")
	}
	return r.Account, nil
}

func (s *BadgerStore) WriteAccount(_ context.Context, userID string, acc domain.Account) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	payload, err := encodeRecord(userID, acc)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(userID), payload)
	})
	return errors.Wrap(err, "write account")
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func badgerKey(userID string) []byte {
	return []byte(accountKeyPrefix + userID)
}
