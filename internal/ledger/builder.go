package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/liftedinit/credledger/internal/models"
)

const (
	// DefaultMaxRetries bounds how many times an index conflict is retried.
	DefaultMaxRetries = 5
	defaultBackoff    = 10 * time.Millisecond
	maxBackoff        = 200 * time.Millisecond
	jitterPercent     = 10
)

// PreviousHashFunc resolves the previousHash of the block about to be appended.
type PreviousHashFunc func(ctx context.Context) (string, error)

// Builder appends new blocks to the ledger, linking them to a subject's previous hash.
type Builder struct {
	store      Store
	maxRetries uint64
	backoff    time.Duration
	now        func() time.Time
}

func NewBuilder(store Store, maxRetries uint64) *Builder {
	return &Builder{
		store:      store,
		maxRetries: maxRetries,
		backoff:    defaultBackoff,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AppendBlock allocates the next global index and appends a block for subject.
// Concurrent writers racing for the same index are resolved by the store's uniqueness check;
// the loser re-reads the index and tries again.
func (b *Builder) AppendBlock(ctx context.Context, subject models.Subject, previousHash, currentHash, userID string) (*models.Block, error) {
	return b.AppendLinked(ctx, subject, func(context.Context) (string, error) {
		return previousHash, nil
	}, currentHash, userID)
}

// AppendLinked is AppendBlock with previousHash resolved on every attempt.
func (b *Builder) AppendLinked(ctx context.Context, subject models.Subject, previous PreviousHashFunc, currentHash, userID string) (*models.Block, error) {
	backoff := retry.NewExponential(b.backoff)
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	backoff = retry.WithJitterPercent(jitterPercent, backoff)
	backoff = retry.WithMaxRetries(b.maxRetries, backoff)

	var stored *models.Block
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		previousHash, err := previous(ctx)
		if err != nil {
			return err
		}

		index, err := b.store.NextIndex(ctx)
		if err != nil {
			return err
		}

		now := b.now()
		block := &models.Block{
			Index:        index,
			PreviousHash: previousHash,
			CurrentHash:  currentHash,
			Data: models.BlockData{
				Collection:   subject.Collection,
				CollectionID: subject.CollectionID,
				UserID:       userID,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		stored, err = b.store.Append(ctx, block)
		if errors.Is(err, ErrIndexConflict) {
			slog.Debug("Block index taken, retrying", "index", index, "subject", subject.String())
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Block appended", "index", stored.Index, "subject", subject.String())
	return stored, nil
}
