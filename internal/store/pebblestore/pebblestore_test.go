package pebblestore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
	"github.com/liftedinit/credledger/internal/store/storetest"
)

func TestPebbleStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Backend {
		s, err := New(filepath.Join(t.TempDir(), "ledger"))
		require.NoError(t, err)
		return s
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger")
	subject := models.Subject{Collection: "degrees", CollectionID: "d1"}

	s, err := New(path)
	require.NoError(t, err)
	_, err = s.Append(ctx, &models.Block{Index: 0, PreviousHash: ledger.GenesisHash, CurrentHash: "h1", Data: models.BlockData{Collection: "degrees", CollectionID: "d1"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	next, err := s.NextIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)

	blocks, err := s.FindBySubject(ctx, subject)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "h1", blocks[0].CurrentHash)
}

func TestKeys(t *testing.T) {
	subject := models.Subject{Collection: "degrees", CollectionID: "d1"}

	key := subjectKey(subject, 258)
	assert.EqualValues(t, 258, indexFromKey(key))
	assert.EqualValues(t, 258, indexFromKey(blockKey(258)))

	got, ok := subjectFromKey(key)
	require.True(t, ok)
	assert.Equal(t, subject, got)

	_, ok = subjectFromKey([]byte("sub/x"))
	assert.False(t, ok)
	_, ok = subjectFromKey(append([]byte("sub/a\x00\x02b\x00\x01"), blockKey(0)[len(blockPrefix):]...))
	assert.False(t, ok)

	// Keys of a shorter collection name sort first.
	assert.Negative(t, bytes.Compare(subjectKey(models.Subject{Collection: "a", CollectionID: "z"}, 9), subjectKey(models.Subject{Collection: "ab", CollectionID: "a"}, 0)))
	assert.Negative(t, bytes.Compare(blockKey(1), blockKey(256)))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("blk0"), prefixUpperBound([]byte("blk/")))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func TestSubjectKeysWithNulBytes(t *testing.T) {
	subjects := []models.Subject{
		{Collection: "a\x00b", CollectionID: "c"},
		{Collection: "a", CollectionID: "\x00b\x00c"},
		{Collection: "a\x00", CollectionID: ""},
		{Collection: "", CollectionID: "\x00"},
	}
	for _, subject := range subjects {
		got, ok := subjectFromKey(subjectKey(subject, 7))
		require.True(t, ok, "%q", subject)
		assert.Equal(t, subject, got)
	}

	// A NUL inside a field never collides with the field terminator, and sorting stays bytewise.
	assert.Negative(t, bytes.Compare(
		subjectKey(models.Subject{Collection: "a", CollectionID: "z"}, 0),
		subjectKey(models.Subject{Collection: "a\x00", CollectionID: "a"}, 0)))
	assert.NotEqual(t,
		subjectPrefixFor(models.Subject{Collection: "a\x00b", CollectionID: "c"}),
		subjectPrefixFor(models.Subject{Collection: "a", CollectionID: "b\x00c"}))

	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer s.Close()

	for i, subject := range subjects {
		_, err := s.Append(ctx, &models.Block{
			Index:        uint64(i),
			PreviousHash: ledger.GenesisHash,
			CurrentHash:  "h",
			Data:         models.BlockData{Collection: subject.Collection, CollectionID: subject.CollectionID},
		})
		require.NoError(t, err)
	}

	listed, err := s.Subjects(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, subjects, listed)

	for _, subject := range subjects {
		n, err := s.CountBySubject(ctx, subject)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "%q", subject)
	}
}
