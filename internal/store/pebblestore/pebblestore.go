// Package pebblestore stores the ledger in an embedded Pebble database.
//
// Layout:
//
//	blk/<index:8 bytes big-endian>                                  -> JSON block
//	sub/<collection>\x00\x01<collectionId>\x00\x01<index:8 bytes>   -> JSON block
//
// Inside subject fields a 0x00 byte is written as 0x00 0xff, so any string round-trips
// and the subject key space stays sorted by collection then id. Big-endian indexes keep
// both key spaces ordered by ascending index.
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

var (
	blockPrefix   = []byte("blk/")
	subjectPrefix = []byte("sub/")
)

const (
	escape     = 0x00
	escapedNul = 0xff
	terminator = 0x01
)

type Store struct {
	db *pebble.DB
	// mu serializes appends so the index existence check and the batch commit are atomic.
	mu sync.Mutex
}

var _ ledger.Backend = (*Store)(nil)

func New(path string) (*Store, error) {
	cache := pebble.NewCache(32 << 20) // 32 MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 16 << 20, // 16 MB memtable
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Append(_ context.Context, block *models.Block) (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := blockKey(block.Index)
	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return nil, ledger.ErrIndexConflict
	}
	if err != pebble.ErrNotFound {
		return nil, ledger.NewStorageError("append", err)
	}

	stored := *block
	stored.ID = uuid.NewString()
	value, err := json.Marshal(&stored)
	if err != nil {
		return nil, ledger.NewStorageError("append", fmt.Errorf("failed to encode block: %w", err))
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, value, nil); err != nil {
		return nil, ledger.NewStorageError("append", err)
	}
	if err := batch.Set(subjectKey(stored.Data.Subject(), stored.Index), value, nil); err != nil {
		return nil, ledger.NewStorageError("append", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, ledger.NewStorageError("append", fmt.Errorf("failed to commit block: %w", err))
	}

	return &stored, nil
}

func (s *Store) NextIndex(_ context.Context) (uint64, error) {
	iter, err := s.db.NewIter(prefixOptions(blockPrefix))
	if err != nil {
		return 0, ledger.NewStorageError("next index", err)
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, ledger.NewStorageError("next index", err)
		}
		return 0, nil
	}
	return indexFromKey(iter.Key()) + 1, nil
}

func (s *Store) FindBySubject(_ context.Context, subject models.Subject) ([]*models.Block, error) {
	blocks, err := s.collect(subjectPrefixFor(subject), subject.Matches, 0, 0)
	if err != nil {
		return nil, ledger.NewStorageError("find by subject", err)
	}
	return blocks, nil
}

func (s *Store) CountBySubject(_ context.Context, subject models.Subject) (int64, error) {
	n, err := s.count(subjectPrefixFor(subject), subject.Matches)
	if err != nil {
		return 0, ledger.NewStorageError("count by subject", err)
	}
	return n, nil
}

// Find returns matching blocks in ascending index order. A non-positive limit returns everything after skip.
func (s *Store) Find(_ context.Context, filter models.BlockFilter, skip, limit int64) ([]*models.Block, error) {
	blocks, err := s.collect(filterPrefix(filter), filter.Matches, skip, limit)
	if err != nil {
		return nil, ledger.NewStorageError("find", err)
	}
	return blocks, nil
}

func (s *Store) Count(_ context.Context, filter models.BlockFilter) (int64, error) {
	n, err := s.count(filterPrefix(filter), filter.Matches)
	if err != nil {
		return 0, ledger.NewStorageError("count", err)
	}
	return n, nil
}

func (s *Store) collect(prefix []byte, match func(*models.Block) bool, skip, limit int64) ([]*models.Block, error) {
	var blocks []*models.Block
	var matched int64
	err := s.scan(prefix, match, func(b *models.Block) bool {
		matched++
		if matched <= skip {
			return true
		}
		blocks = append(blocks, b)
		return limit <= 0 || int64(len(blocks)) < limit
	})
	return blocks, err
}

func (s *Store) count(prefix []byte, match func(*models.Block) bool) (int64, error) {
	var n int64
	err := s.scan(prefix, match, func(*models.Block) bool {
		n++
		return true
	})
	return n, err
}

// Subjects walks the subject key space, which is already sorted by collection then id.
func (s *Store) Subjects(_ context.Context) ([]models.Subject, error) {
	iter, err := s.db.NewIter(prefixOptions(subjectPrefix))
	if err != nil {
		return nil, ledger.NewStorageError("subjects", err)
	}
	defer iter.Close()

	var subjects []models.Subject
	for iter.First(); iter.Valid(); iter.Next() {
		subject, ok := subjectFromKey(iter.Key())
		if !ok {
			slog.Warn("Skipping malformed subject key", "key", fmt.Sprintf("%q", iter.Key()))
			continue
		}
		if n := len(subjects); n > 0 && subjects[n-1] == subject {
			continue
		}
		subjects = append(subjects, subject)
	}
	if err := iter.Error(); err != nil {
		return nil, ledger.NewStorageError("subjects", err)
	}
	return subjects, nil
}

// filterPrefix serves a fully specified subject from the subject key space; anything else scans every block.
func filterPrefix(filter models.BlockFilter) []byte {
	if filter.Collection != "" && filter.CollectionID != "" {
		return subjectPrefixFor(models.Subject{Collection: filter.Collection, CollectionID: filter.CollectionID})
	}
	return blockPrefix
}

// scan visits blocks under prefix accepted by match, in ascending index order, until fn returns false.
func (s *Store) scan(prefix []byte, match func(*models.Block) bool, fn func(*models.Block) bool) error {
	iter, err := s.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		var b models.Block
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("failed to decode block: %w", err)
		}
		if !match(&b) {
			continue
		}
		if !fn(&b) {
			break
		}
	}
	return iter.Error()
}

func (s *Store) Close() error {
	slog.Info("Closing pebble database")
	return s.db.Close()
}

func blockKey(index uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], index)
	return key
}

func subjectPrefixFor(subject models.Subject) []byte {
	key := make([]byte, 0, len(subjectPrefix)+len(subject.Collection)+len(subject.CollectionID)+4)
	key = append(key, subjectPrefix...)
	key = appendField(key, subject.Collection)
	key = appendField(key, subject.CollectionID)
	return key
}

func subjectKey(subject models.Subject, index uint64) []byte {
	key := subjectPrefixFor(subject)
	return binary.BigEndian.AppendUint64(key, index)
}

func appendField(key []byte, field string) []byte {
	for i := 0; i < len(field); i++ {
		if field[i] == escape {
			key = append(key, escape, escapedNul)
			continue
		}
		key = append(key, field[i])
	}
	return append(key, escape, terminator)
}

// readField decodes one escaped field and returns it with the remaining bytes.
func readField(body []byte) (string, []byte, bool) {
	var field []byte
	for i := 0; i < len(body); i++ {
		if body[i] != escape {
			field = append(field, body[i])
			continue
		}
		if i+1 == len(body) {
			return "", nil, false
		}
		switch body[i+1] {
		case terminator:
			return string(field), body[i+2:], true
		case escapedNul:
			field = append(field, escape)
			i++
		default:
			return "", nil, false
		}
	}
	return "", nil, false
}

func indexFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

func subjectFromKey(key []byte) (models.Subject, bool) {
	if len(key) < len(subjectPrefix)+4+8 {
		return models.Subject{}, false
	}
	body := key[len(subjectPrefix) : len(key)-8]
	collection, rest, ok := readField(body)
	if !ok {
		return models.Subject{}, false
	}
	collectionID, rest, ok := readField(rest)
	if !ok || len(rest) != 0 {
		return models.Subject{}, false
	}
	return models.Subject{Collection: collection, CollectionID: collectionID}, true
}

func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}
}

// prefixUpperBound returns the smallest key greater than every key starting with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
