// Package memory is an in-process block store. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

type Store struct {
	mu      sync.RWMutex
	blocks  []*models.Block // ascending by index
	indexes map[uint64]struct{}
	closed  bool
}

var _ ledger.Backend = (*Store)(nil)

func New() *Store {
	return &Store{indexes: make(map[uint64]struct{})}
}

func (s *Store) Append(_ context.Context, block *models.Block) (*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ledger.NewStorageError("append", ledger.ErrStoreClosed)
	}
	if _, taken := s.indexes[block.Index]; taken {
		return nil, ledger.ErrIndexConflict
	}

	stored := *block
	stored.ID = uuid.NewString()

	pos := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Index > stored.Index })
	s.blocks = append(s.blocks, nil)
	copy(s.blocks[pos+1:], s.blocks[pos:])
	s.blocks[pos] = &stored
	s.indexes[stored.Index] = struct{}{}

	out := stored
	return &out, nil
}

func (s *Store) NextIndex(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ledger.NewStorageError("next index", ledger.ErrStoreClosed)
	}
	if len(s.blocks) == 0 {
		return 0, nil
	}
	return s.blocks[len(s.blocks)-1].Index + 1, nil
}

func (s *Store) FindBySubject(_ context.Context, subject models.Subject) ([]*models.Block, error) {
	return s.find("find by subject", subject.Matches, 0, 0)
}

func (s *Store) CountBySubject(_ context.Context, subject models.Subject) (int64, error) {
	return s.count("count by subject", subject.Matches)
}

// Find returns matching blocks in ascending index order. A non-positive limit returns everything after skip.
func (s *Store) Find(_ context.Context, filter models.BlockFilter, skip, limit int64) ([]*models.Block, error) {
	return s.find("find", filter.Matches, skip, limit)
}

func (s *Store) Count(_ context.Context, filter models.BlockFilter) (int64, error) {
	return s.count("count", filter.Matches)
}

func (s *Store) find(op string, match func(*models.Block) bool, skip, limit int64) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ledger.NewStorageError(op, ledger.ErrStoreClosed)
	}

	var out []*models.Block
	var matched int64
	for _, b := range s.blocks {
		if !match(b) {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		cp := *b
		out = append(out, &cp)
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) count(op string, match func(*models.Block) bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ledger.NewStorageError(op, ledger.ErrStoreClosed)
	}

	var n int64
	for _, b := range s.blocks {
		if match(b) {
			n++
		}
	}
	return n, nil
}

// Subjects returns every distinct subject, sorted by collection then id.
func (s *Store) Subjects(_ context.Context) ([]models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ledger.NewStorageError("subjects", ledger.ErrStoreClosed)
	}

	seen := make(map[models.Subject]struct{})
	var subjects []models.Subject
	for _, b := range s.blocks {
		subject := b.Data.Subject()
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		subjects = append(subjects, subject)
	}
	sort.Slice(subjects, func(i, j int) bool {
		if subjects[i].Collection != subjects[j].Collection {
			return subjects[i].Collection < subjects[j].Collection
		}
		return subjects[i].CollectionID < subjects[j].CollectionID
	})
	return subjects, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
