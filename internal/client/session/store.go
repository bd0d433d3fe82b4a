package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
)

// StorageKey is the fixed key of the persisted session blob.
const StorageKey = "canvas:auth"

// ErrCorrupt is returned by Load when the stored blob cannot be decoded.
var ErrCorrupt = errors.New("session: stored blob is corrupt")

// Persisted is the durable form of a session.
type Persisted struct {
	Profile dto.Profile `json:"profile"`
	Token   string      `json:"token"`
}

// Store keeps the session blob durably. Load returns nil, nil when no
// session is stored. Each call is atomic.
type Store interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// BadgerStore persists the session in a Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store in dir. An empty dir keeps the
// data in memory only.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Load(_ context.Context) (*Persisted, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(StorageKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger: load session: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &p, nil
}

func (s *BadgerStore) Save(_ context.Context, p Persisted) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(StorageKey), raw)
	})
}

func (s *BadgerStore) Clear(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(StorageKey))
	})
}

// badgerLogger routes Badger's logs through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &badgerLogger{s: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
