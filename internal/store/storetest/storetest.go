// Package storetest holds the behaviour every ledger.Backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

// Run exercises newBackend. Every subtest gets a fresh, empty backend and closes it.
func Run(t *testing.T, newBackend func(t *testing.T) ledger.Backend) {
	run := func(name string, fn func(t *testing.T, s ledger.Backend)) {
		t.Run(name, func(t *testing.T) {
			s := newBackend(t)
			defer func() { require.NoError(t, s.Close()) }()
			fn(t, s)
		})
	}

	run("EmptyStore", testEmptyStore)
	run("AppendAndNextIndex", testAppendAndNextIndex)
	run("IndexConflict", testIndexConflict)
	run("ConcurrentAppend", testConcurrentAppend)
	run("FindBySubject", testFindBySubject)
	run("SubjectLookupIsExact", testSubjectLookupIsExact)
	run("FindPagination", testFindPagination)
	run("Subjects", testSubjects)
}

func block(index uint64, subject models.Subject, prev, cur string) *models.Block {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.Block{
		Index:        index,
		PreviousHash: prev,
		CurrentHash:  cur,
		Data:         models.BlockData{Collection: subject.Collection, CollectionID: subject.CollectionID, UserID: "u1"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var (
	d1 = models.Subject{Collection: "degrees", CollectionID: "d1"}
	d2 = models.Subject{Collection: "degrees", CollectionID: "d2"}
	c1 = models.Subject{Collection: "certificates", CollectionID: "c1"}
)

func seed(t *testing.T, s ledger.Backend, subjects ...models.Subject) {
	t.Helper()
	for i, subject := range subjects {
		_, err := s.Append(context.Background(), block(uint64(i), subject, "p", "h"))
		require.NoError(t, err)
	}
}

func testEmptyStore(t *testing.T, s ledger.Backend) {
	ctx := context.Background()

	next, err := s.NextIndex(ctx)
	require.NoError(t, err)
	assert.Zero(t, next)

	blocks, err := s.FindBySubject(ctx, d1)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	n, err := s.CountBySubject(ctx, d1)
	require.NoError(t, err)
	assert.Zero(t, n)

	subjects, err := s.Subjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func testAppendAndNextIndex(t *testing.T, s ledger.Backend) {
	ctx := context.Background()

	stored, err := s.Append(ctx, block(0, d1, ledger.GenesisHash, "h1"))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, ledger.GenesisHash, stored.PreviousHash)
	assert.Equal(t, "h1", stored.CurrentHash)
	assert.Equal(t, d1, stored.Data.Subject())

	next, err := s.NextIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)

	_, err = s.Append(ctx, block(300, c1, ledger.GenesisHash, "x1"))
	require.NoError(t, err)
	next, err = s.NextIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 301, next)
}

func testIndexConflict(t *testing.T, s ledger.Backend) {
	ctx := context.Background()

	_, err := s.Append(ctx, block(0, d1, ledger.GenesisHash, "h1"))
	require.NoError(t, err)

	_, err = s.Append(ctx, block(0, d2, ledger.GenesisHash, "k1"))
	require.ErrorIs(t, err, ledger.ErrIndexConflict)

	n, err := s.CountBySubject(ctx, d2)
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected block must not be visible")
}

func testConcurrentAppend(t *testing.T, s ledger.Backend) {
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, block(0, d1, ledger.GenesisHash, "h"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrIndexConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func testFindBySubject(t *testing.T, s ledger.Backend) {
	ctx := context.Background()
	seed(t, s, d1, c1, d1, d2, d1)

	blocks, err := s.FindBySubject(ctx, d1)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for i, want := range []uint64{0, 2, 4} {
		assert.Equal(t, want, blocks[i].Index)
		assert.Equal(t, d1, blocks[i].Data.Subject())
	}

	n, err := s.CountBySubject(ctx, d1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.Count(ctx, models.BlockFilter{Collection: "degrees"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = s.Count(ctx, models.BlockFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func testSubjectLookupIsExact(t *testing.T, s ledger.Backend) {
	ctx := context.Background()
	seed(t, s, d1, d2)

	for _, partial := range []models.Subject{
		{Collection: d1.Collection},
		{CollectionID: d1.CollectionID},
		{},
	} {
		n, err := s.CountBySubject(ctx, partial)
		require.NoError(t, err)
		assert.Zero(t, n, "%q", partial)

		blocks, err := s.FindBySubject(ctx, partial)
		require.NoError(t, err)
		assert.Empty(t, blocks, "%q", partial)
	}

	// A block stored under an empty id is only found by that exact pair.
	blank := models.Subject{Collection: d1.Collection}
	_, err := s.Append(ctx, block(2, blank, ledger.GenesisHash, "b1"))
	require.NoError(t, err)

	blocks, err := s.FindBySubject(ctx, blank)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b1", blocks[0].CurrentHash)

	n, err := s.CountBySubject(ctx, d1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testFindPagination(t *testing.T, s ledger.Backend) {
	ctx := context.Background()
	seed(t, s, d1, d1, c1, d1, d1, d1)
	filter := models.BlockFilter{Collection: "degrees", CollectionID: "d1"}

	page, err := s.Find(ctx, filter, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 0, page[0].Index)
	assert.EqualValues(t, 1, page[1].Index)

	page, err = s.Find(ctx, filter, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 3, page[0].Index)
	assert.EqualValues(t, 4, page[1].Index)

	page, err = s.Find(ctx, filter, 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.EqualValues(t, 5, page[0].Index)

	page, err = s.Find(ctx, filter, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	all, err := s.Find(ctx, models.BlockFilter{CollectionID: "c1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, 2, all[0].Index)
}

func testSubjects(t *testing.T, s ledger.Backend) {
	seed(t, s, d2, d1, c1, d1, d2)

	subjects, err := s.Subjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Subject{c1, d1, d2}, subjects)
}
