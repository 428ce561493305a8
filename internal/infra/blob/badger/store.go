// Package badger implements a blob Store on an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"praxis/internal/blob/core"
)

const (
	dataPrefix = "d/"
	metaPrefix = "m/"
)

// Config controls the embedded database.
type Config struct {
	Dir        string        `koanf:"dir"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// Store keeps each blob as a data key plus a JSON metadata key written in
// the same transaction.
type Store struct {
	db     *badger.DB
	log    zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

type meta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New opens the database described by cfg.
func New(cfg Config, log zerolog.Logger) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{log: log}
	opts.SyncWrites = cfg.SyncWrites
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	s := &Store{db: db, log: log, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if cfg.InMemory {
		close(s.doneCh)
	} else {
		go s.gcLoop(interval)
	}
	log.Debug().Str("dir", cfg.Dir).Bool("in_memory", cfg.InMemory).Msg("badger blob store opened")
	return s, nil
}

func (s *Store) Driver() core.Driver { return core.DriverBadger }

// Put stores data as a single value, so badger's value size limit caps the
// largest object.
func (s *Store) Put(_ context.Context, key string, data []byte, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	m := meta{ContentType: opts.ContentType, Metadata: core.CloneMetadata(opts.Metadata), Size: int64(len(data)), UpdatedAt: time.Now().UTC()}
	mb, err := json.Marshal(m)
	if err != nil {
		return core.Info{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+key), append([]byte(nil), data...)); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+key), mb)
	})
	if err != nil {
		return core.Info{}, fmt.Errorf("badger put %s: %w", key, err)
	}
	return m.info(key), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, core.Info, error) {
	var (
		data []byte
		m    meta
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if m, err = readMeta(txn, key); err != nil {
			return err
		}
		item, err := txn.Get([]byte(dataPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, core.Info{}, mapErr(key, err)
	}
	return data, m.info(key), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	var m meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = readMeta(txn, key)
		return err
	})
	if err != nil {
		return core.Info{}, mapErr(key, err)
	}
	return m.info(key), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		if err := txn.Delete([]byte(dataPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + key))
	})
	if err != nil {
		return false, fmt.Errorf("badger delete %s: %w", key, err)
	}
	return existed, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.KeyCopy(nil)), metaPrefix)
			err := item.Value(func(v []byte) error {
				var m meta
				if err := json.Unmarshal(v, &m); err != nil {
					return fmt.Errorf("decode meta %s: %w", key, err)
				}
				out = append(out, m.info(key))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear drops every key in the database.
func (s *Store) Clear(_ context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	return nil
}

func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

// Close stops value-log GC and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		err = s.db.Close()
	})
	return err
}

// gcLoop reclaims value-log space left behind by snapshot overwrites.
func (s *Store) gcLoop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.Warn().Err(err).Msg("badger value log gc failed")
					}
					break
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

func readMeta(txn *badger.Txn, key string) (meta, error) {
	item, err := txn.Get([]byte(metaPrefix + key))
	if err != nil {
		return meta{}, err
	}
	var m meta
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &m) })
	return m, err
}

func (m meta) info(key string) core.Info {
	return core.Info{Key: key, Size: m.Size, ContentType: m.ContentType, Metadata: core.CloneMetadata(m.Metadata), LastModified: m.UpdatedAt}
}

func mapErr(key string, err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return fmt.Errorf("badger get %s: %w", key, err)
}

// badgerLogger adapts zerolog to Badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
