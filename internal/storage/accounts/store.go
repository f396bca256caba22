// Package accounts persists one trading account per user.
package accounts

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/domain"
)

// ErrNotFound is returned when the user has no stored account yet.
var ErrNotFound = errors.New("account not found")

const (
	BackendFile   = "file"
	BackendWAL    = "wal"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Store reads and writes accounts. Writes are assumed atomic.
type Store interface {
	ReadAccount(ctx context.Context, userID string) (domain.Account, error)
	WriteAccount(ctx context.Context, userID string, account domain.Account) error
	Close() error
}

// Open creates the store of the given backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendFile, "":
		return NewFileStore(dir)
	case BackendWAL:
		return NewWALStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir)
	case BackendMemory:
		return NewMemoryStore()
	default:
		return nil, errors.Errorf("unknown account store backend %q", backend)
	}
}

// LoadOrCreate returns the stored account of the user, creating and storing a fresh one
// funded with initial base currency on first access.
func LoadOrCreate(
	ctx context.Context,
	store Store,
	userID, baseCurrency string,
	initial decimal.Decimal,
	logger *zap.Logger,
) (domain.Account, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	acc, err := store.ReadAccount(ctx, userID)
	if err == nil {
		if verr := acc.Validate(); verr != nil {
			return domain.Account{}, errors.Wrapf(verr, "stored account of %s", userID)
		}
		return acc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Account{}, errors.Wrapf(err, "read account of %s", userID)
	}

	acc = domain.NewAccount(baseCurrency, initial)
	if err := store.WriteAccount(ctx, userID, acc); err != nil {
		return domain.Account{}, errors.Wrapf(err, "create account of %s", userID)
	}

	logger.Info("account created",
		zap.String("user", userID),
		zap.String("base", acc.BaseCurrency()),
		zap.String("wallet", initial.String()))

	return acc, nil
}

// record is the persisted form shared by all backends.
type record struct {
	UserID    string         `json:"user_id"`
	Account   domain.Account `json:"account"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func encodeRecord(userID string, acc domain.Account) ([]byte, error) {
	payload, err := json.Marshal(record{UserID: userID, Account: acc, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return nil, errors.Wrap(err, "encode account")
	}
	return payload, nil
}

func decodeRecord(payload []byte) (record, error) {
	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return record{}, errors.Wrap(err, "decode account")
	}
	return r, nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	return nil
}
