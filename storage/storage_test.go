package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/KelvinWu602/forus-snode/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testItem(t *testing.T, owner byte, data string, ts time.Time) message.Item {
	message.UseTestnet(false)
	pk, err := message.ParseUserPubkey("05" + strings.Repeat(string("0123456789abcdef"[owner%16])+"0", 32))
	require.NoError(t, err)
	return message.NewItem(pk, data, time.Hour, ts)
}

func TestStoreAndRetrieve(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Truncate(time.Millisecond)
	a := testItem(t, 1, "first", now)
	b := testItem(t, 1, "second", now.Add(time.Millisecond))
	other := testItem(t, 2, "other", now)

	for _, item := range []message.Item{a, b, other} {
		stored, err := db.Store(item)
		require.NoError(t, err)
		assert.True(t, stored)
	}

	items, err := db.RetrieveSince(a.PubKey, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, a.Hash, items[0].Hash)
	assert.Equal(t, "first", items[0].Data)
	assert.True(t, a.Expiration.Equal(items[0].Expiration))
	assert.Equal(t, b.Hash, items[1].Hash)
}

func TestStoreDuplicate(t *testing.T) {
	db := openTestDB(t)
	item := testItem(t, 3, "dup", time.Now())

	stored, err := db.Store(item)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = db.Store(item)
	require.NoError(t, err)
	assert.False(t, stored, "second store of the same hash is a no-op")

	items, err := db.RetrieveSince(item.PubKey, "", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStoreExpiredIsIgnored(t *testing.T) {
	db := openTestDB(t)
	item := testItem(t, 4, "old", time.Now().Add(-2*time.Hour))
	stored, err := db.Store(item)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestRetrieveSinceLastHash(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	var items []message.Item
	for i := 0; i < 4; i++ {
		item := testItem(t, 5, string(rune('a'+i)), now.Add(time.Duration(i)*time.Millisecond))
		_, err := db.Store(item)
		require.NoError(t, err)
		items = append(items, item)
	}

	got, err := db.RetrieveSince(items[0].PubKey, items[1].Hash, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, items[2].Hash, got[0].Hash)
	assert.Equal(t, items[3].Hash, got[1].Hash)

	got, err = db.RetrieveSince(items[0].PubKey, items[3].Hash, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.RetrieveSince(items[0].PubKey, "unknown", 0)
	require.NoError(t, err)
	assert.Len(t, got, 4, "unknown hash returns everything")

	got, err = db.RetrieveSince(items[0].PubKey, "", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRetrieveSinceIgnoresOtherOwnersHash(t *testing.T) {
	db := openTestDB(t)
	mine := testItem(t, 6, "mine", time.Now())
	theirs := testItem(t, 7, "theirs", time.Now())
	_, err := db.Store(mine)
	require.NoError(t, err)
	_, err = db.Store(theirs)
	require.NoError(t, err)

	got, err := db.RetrieveSince(mine.PubKey, theirs.Hash, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.Hash, got[0].Hash)
}

func TestRetrieveByHash(t *testing.T) {
	db := openTestDB(t)
	item := testItem(t, 8, "find me", time.Now())
	_, err := db.Store(item)
	require.NoError(t, err)

	got, found, err := db.RetrieveByHash(item.Hash)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "find me", got.Data)

	_, found, err = db.RetrieveByHash("missing")
	require.NoError(t, err)
	assert.False(t, found)

	reads, writes := db.Counters()
	assert.Equal(t, uint64(2), reads)
	assert.Equal(t, uint64(1), writes)
}

func TestClosedDB(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Store(testItem(t, 9, "x", time.Now()))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.RetrieveSince("x", "", 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = db.RetrieveByHash("x")
	assert.ErrorIs(t, err, ErrClosed)
}
