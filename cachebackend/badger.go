// Package cachebackend implements a persistent, cross-process Store for
// the cache interceptor (interceptors.Store) over badger, adapted
// from omni's internal/storage.BadgerStore (§4.3 "pluggable backend";
// §1 explicitly scopes concrete cache backends other than the in-process
// default out of the core, but this one ships as the reference adapter
// the rest of the pack's storage stack grounds).
package cachebackend

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Config mirrors the subset of badger tuning knobs omni's storage layer
// exposes, trimmed to what a cache/dedup backend actually needs.
type Config struct {
	Dir              string
	SyncWrites       bool
	ValueLogFileSize int64
	Compression      options.CompressionType
}

// DefaultConfig returns sane defaults for dir, matching omni's
// DefaultConfig shape.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		SyncWrites:       false,
		ValueLogFileSize: 1 << 28,
		Compression:      options.Snappy,
	}
}

// Backend is a badger-backed interceptors.Store: values are stored with
// their stored-at timestamp prefixed, so Get can report age to the
// calling Cache without a second read.
type Backend struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a badger database at cfg.Dir.
func Open(cfg *Config) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cachebackend: config cannot be nil")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cachebackend: failed to create directory: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.Compression = cfg.Compression
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cachebackend: failed to open badger database: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *Backend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// encode prefixes value with storedAt as a big-endian unix-nano stamp, so
// Get can recover it without a side table.
func encode(value []byte, storedAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(storedAt.UnixNano()))
	copy(buf[8:], value)
	return buf
}

func decode(raw []byte) ([]byte, time.Time) {
	if len(raw) < 8 {
		return nil, time.Time{}
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8]))
	return raw[8:], time.Unix(0, nanos)
}

// Get implements interceptors.Store.
func (b *Backend) Get(key string) ([]byte, time.Time, bool) {
	if b.isClosed() {
		return nil, time.Time{}, false
	}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, time.Time{}, false
	}
	value, storedAt := decode(raw)
	return value, storedAt, true
}

// Set implements interceptors.Store.
func (b *Backend) Set(key string, value []byte, storedAt time.Time) error {
	if b.isClosed() {
		return fmt.Errorf("cachebackend: store is closed")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encode(value, storedAt))
	})
}

// SetWithTTL stores value with a badger-native expiry, letting the
// database reap it without the interceptor's own reaper needing to run,
// mirroring omni's BadgerStore.SetWithTTL.
func (b *Backend) SetWithTTL(key string, value []byte, storedAt time.Time, ttl time.Duration) error {
	if b.isClosed() {
		return fmt.Errorf("cachebackend: store is closed")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), encode(value, storedAt)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Delete implements interceptors.Store.
func (b *Backend) Delete(key string) error {
	if b.isClosed() {
		return fmt.Errorf("cachebackend: store is closed")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
