package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/macfound/configaudit/pkg/flatten"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/stretchr/testify/require"
)

var testID = snapshot.Identifier{Repository: "fluxx-audit", Folder: "configuration_audit", FileID: "47"}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "configaudit.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSnapshot(raw string) snapshot.Snapshot {
	return snapshot.Snapshot{
		Raw: raw,
		Metadata: snapshot.Metadata{
			UpdatedAt: "2024-03-01T10:00:00-06:00",
			UpdatedBy: snapshot.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"},
		},
	}
}

func TestGetPrevious_Absent(t *testing.T) {
	db := openTestDB(t)

	prev, err := db.GetPrevious(context.Background(), testID)
	require.NoError(t, err)
	require.Nil(t, prev)
}

func TestPutCurrent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	// Raw text is stored verbatim, whitespace included.
	first := testSnapshot("{\n  \"a\": {\"x\": 1}\n}")
	require.NoError(t, db.PutCurrent(ctx, testID, first, snapshot.Commit{
		Author:    first.Metadata.UpdatedBy,
		Message:   snapshot.CommitMessage(first.Metadata.UpdatedBy),
		Timestamp: time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
	}))

	second := testSnapshot(`{"a":{"x":2}}`)
	require.NoError(t, db.PutCurrent(ctx, testID, second, snapshot.Commit{
		Author:    second.Metadata.UpdatedBy,
		Message:   snapshot.CommitMessage(second.Metadata.UpdatedBy),
		Timestamp: time.Date(2024, 3, 2, 16, 0, 0, 0, time.UTC),
		Changes:   []flatten.Record{{Parent: "a", Key: "x", Value: "2"}},
	}))

	prev, err := db.GetPrevious(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, second, *prev)

	other, err := db.GetPrevious(ctx, snapshot.Identifier{Repository: "fluxx-audit", Folder: "configuration_audit", FileID: "48"})
	require.NoError(t, err)
	require.Nil(t, other)

	changes, err := db.ListRecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "x", changes[0].Key)
	require.Equal(t, "2", changes[0].Value)
	require.Equal(t, "Ada Lovelace", changes[0].Author)
	require.Equal(t, testID, changes[0].Identifier)
	require.Equal(t, time.Date(2024, 3, 2, 16, 0, 0, 0, time.UTC), changes[0].OccurredAt)

	revs, err := db.ListRevisions(ctx, testID, 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	require.Equal(t, 1, revs[0].ChangeCount)
	require.Equal(t, "Configuration Changed by Ada Lovelace", revs[0].Message)
}

func TestPutCurrent_FailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.PutCurrent(ctx, testID, testSnapshot(`{"a":1}`), snapshot.Commit{Message: "baseline"}))

	// Abort the transaction after the snapshot row was inserted.
	_, err := db.sql.Exec(`CREATE TRIGGER fail_change BEFORE INSERT ON config_changes
WHEN NEW.record_key = 'boom' BEGIN SELECT RAISE(ABORT, 'boom'); END;`)
	require.NoError(t, err)

	err = db.PutCurrent(ctx, testID, testSnapshot(`{"boom":2}`), snapshot.Commit{
		Message: "broken",
		Changes: []flatten.Record{{Key: "boom", Value: "2"}},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, snapshot.ErrStoreWriteFailed))

	prev, err := db.GetPrevious(ctx, testID)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, prev.Raw)
}

func TestPutCurrent_CanceledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.PutCurrent(ctx, testID, testSnapshot(`{"a":1}`), snapshot.Commit{})
	require.ErrorIs(t, err, snapshot.ErrStoreWriteFailed)

	prev, err := db.GetPrevious(context.Background(), testID)
	require.NoError(t, err)
	require.Nil(t, prev)
}

func TestGetPrevious_ClosedDB(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.GetPrevious(context.Background(), testID)
	require.ErrorIs(t, err, snapshot.ErrStoreUnavailable)
}
