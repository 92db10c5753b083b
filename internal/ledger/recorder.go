package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/liftedinit/credledger/internal/models"
)

// GenesisHash is the previousHash of a subject's first block.
const GenesisHash = "genesis"

var ErrEmptySubject = errors.New("ledger: subject collection and collectionId are required")

// Hasher produces the content hash of a subject's current state.
type Hasher interface {
	Hash(subject models.Subject) (string, error)
}

// Recorder records a new state transition for a subject: it links to the subject's latest
// currentHash, computes a fresh content hash and appends the block.
// Records of one subject are serialized so each new block links to the current tip.
type Recorder struct {
	store   Store
	builder *Builder
	hasher  Hasher
	locks   *subjectLocks
}

func NewRecorder(store Store, builder *Builder, hasher Hasher) *Recorder {
	return &Recorder{store: store, builder: builder, hasher: hasher, locks: newSubjectLocks()}
}

func (r *Recorder) Record(ctx context.Context, subject models.Subject, userID string) (*models.Block, error) {
	if subject.Collection == "" || subject.CollectionID == "" {
		return nil, ErrEmptySubject
	}

	unlock, err := r.lock(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer unlock()

	currentHash, err := r.hasher.Hash(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to compute content hash: %w", err)
	}

	return r.builder.AppendLinked(ctx, subject, func(ctx context.Context) (string, error) {
		return r.LatestHash(ctx, subject)
	}, currentHash, userID)
}

// lock takes the in-process subject lock, then the store's lock when the store shares the ledger
// with other processes.
func (r *Recorder) lock(ctx context.Context, subject models.Subject) (func(), error) {
	unlockLocal, _ := r.locks.LockSubject(ctx, subject)

	locker, ok := r.store.(SubjectLocker)
	if !ok {
		return unlockLocal, nil
	}
	unlockStore, err := locker.LockSubject(ctx, subject)
	if err != nil {
		unlockLocal()
		return nil, NewStorageError("lock subject", err)
	}
	return func() {
		unlockStore()
		unlockLocal()
	}, nil
}

// LatestHash returns the subject's most recent currentHash, or GenesisHash when it has no blocks.
func (r *Recorder) LatestHash(ctx context.Context, subject models.Subject) (string, error) {
	blocks, err := r.store.FindBySubject(ctx, subject)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return GenesisHash, nil
	}
	return blocks[len(blocks)-1].CurrentHash, nil
}
