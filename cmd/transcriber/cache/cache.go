// Package cache persists transcriptions keyed by model and audio content so
// that re-running over the same input skips decoding.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

var ErrNotFound = errors.New("cache: entry not found")

type Config struct {
	// Dir is the directory holding the cache files. Required unless
	// InMemory is set.
	Dir string
	// InMemory keeps the cache in memory only.
	InMemory bool
	// TTL is how long entries are kept. Zero keeps them forever.
	TTL time.Duration
}

func (c Config) IsValid() error {
	if !c.InMemory && c.Dir == "" {
		return fmt.Errorf("invalid Dir: should not be empty")
	}
	if c.TTL < 0 {
		return fmt.Errorf("invalid TTL: should not be negative")
	}
	return nil
}

type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

type segment struct {
	Start float64 `msgpack:"s"`
	End   float64 `msgpack:"e"`
	Text  string  `msgpack:"t"`
}

type entry struct {
	Model     string    `msgpack:"model"`
	Segments  []segment `msgpack:"segments"`
	Truncated bool      `msgpack:"truncated"`
	CreatedAt int64     `msgpack:"created_at"`
}

func New(cfg Config) (*Cache, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir).WithLogger(logger{})
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(logger{})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	return &Cache{
		db:  db,
		ttl: cfg.TTL,
	}, nil
}

// Key derives the cache key for the given model and canonical PCM.
func Key(model string, samples []float32) []byte {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	var buf [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		h.Write(buf[:])
	}
	sum := h.Sum(nil)
	return []byte("tr:" + hex.EncodeToString(sum))
}

func (c *Cache) Get(key []byte) (transcribe.Transcription, error) {
	var tr transcribe.Transcription

	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tr, ErrNotFound
	} else if err != nil {
		return tr, fmt.Errorf("failed to read entry: %w", err)
	}

	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return tr, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	tr.Model = e.Model
	tr.Truncated = e.Truncated
	for _, s := range e.Segments {
		tr.Segments = append(tr.Segments, transcribe.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}

	return tr, nil
}

func (c *Cache) Set(key []byte, tr transcribe.Transcription) error {
	e := entry{
		Model:     tr.Model,
		Truncated: tr.Truncated,
		CreatedAt: time.Now().UnixMilli(),
		Segments:  make([]segment, len(tr.Segments)),
	}
	for i, s := range tr.Segments {
		e.Segments[i] = segment{Start: s.Start, End: s.End, Text: s.Text}
	}

	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		be := badger.NewEntry(key, data)
		if c.ttl > 0 {
			be = be.WithTTL(c.ttl)
		}
		return txn.SetEntry(be)
	})
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	return nil
}

func (c *Cache) Delete(key []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// logger routes badger logs through slog, dropping info and debug output.
type logger struct{}

func (logger) Errorf(f string, v ...any) {
	slog.Error(fmt.Sprintf("badger: "+f, v...))
}

func (logger) Warningf(f string, v ...any) {
	slog.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (logger) Infof(string, ...any)  {}
func (logger) Debugf(string, ...any) {}
