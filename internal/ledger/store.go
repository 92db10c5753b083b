// Package ledger implements the append-only block ledger used to record credential mutations
// and the verification of per-subject hash chains.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/liftedinit/credledger/internal/models"
)

var (
	// ErrIndexConflict is returned by Store.Append when another block already holds the index.
	ErrIndexConflict = errors.New("ledger: index already taken")
	ErrStoreClosed   = errors.New("ledger: store closed")
)

// StorageError reports a failed read or write against the block store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger: storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it is nil or already a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Store is durable append-only block storage.
type Store interface {
	// Append persists a fully populated block. It performs no chain validation.
	Append(ctx context.Context, block *models.Block) (*models.Block, error)
	// NextIndex returns one past the highest stored index, or 0 on an empty store.
	NextIndex(ctx context.Context) (uint64, error)
	// FindBySubject returns the blocks whose collection and collectionId both equal the subject's,
	// in ascending index order. Empty subject fields match only empty fields.
	FindBySubject(ctx context.Context, subject models.Subject) ([]*models.Block, error)
	CountBySubject(ctx context.Context, subject models.Subject) (int64, error)
	Close() error
}

// Lister exposes the filtered listings used by the HTTP API and the audit command.
type Lister interface {
	Find(ctx context.Context, filter models.BlockFilter, skip, limit int64) ([]*models.Block, error)
	Count(ctx context.Context, filter models.BlockFilter) (int64, error)
	Subjects(ctx context.Context) ([]models.Subject, error)
}

// Backend is what every storage implementation provides.
type Backend interface {
	Store
	Lister
}
