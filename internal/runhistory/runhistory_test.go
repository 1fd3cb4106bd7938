package runhistory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-core/internal/coreerr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	id, err := db.Start([]string{"pop-core", "bash"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, []string{"pop-core", "bash"}, rec.Command)
	assert.True(t, rec.EndTime.IsZero())
}

func TestFinishUpdatesStatusAndError(t *testing.T) {
	db := openTestDB(t)

	id, err := db.Start([]string{"pop-core"})
	require.NoError(t, err)

	require.NoError(t, db.Finish(id, StatusFailed, assertErr("rootid mismatch")))

	rec, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "rootid mismatch", rec.Error)
	assert.False(t, rec.EndTime.IsZero())
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get("does-not-exist")
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestListReturnsMostRecentFirst(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.Start([]string{"first"})
	require.NoError(t, err)
	id2, err := db.Start([]string{"second"})
	require.NoError(t, err)

	records, err := db.List()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, id2, records[0].UUID)
	assert.Equal(t, id1, records[1].UUID)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
func assertErr(msg string) error    { return sentinelErr(msg) }
