package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/record"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	var version int
	require.NoError(t, j2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestRecordAttempt_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	att := &Attempt{
		Token:      "0197a3b2-0000-7000-8000-000000000001",
		At:         at,
		RetryCount: 2,
		Payload: record.Object{
			"title": record.String("draft"),
			"nested": record.Object{
				"count": record.Int(9007199254740993), // > 2^53
			},
		},
		Status: StatusFailed,
		Code:   "TRANSPORT_ERROR",
		Error:  "connection reset",
	}
	require.NoError(t, j.RecordAttempt(ctx, att))
	assert.Equal(t, int64(1), att.Seq)

	got, err := j.Attempts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, att.Token, got[0].Token)
	assert.True(t, got[0].At.Equal(at))
	assert.Equal(t, 2, got[0].RetryCount)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, "TRANSPORT_ERROR", got[0].Code)
	assert.Equal(t, "connection reset", got[0].Error)
	assert.True(t, record.Equal(att.Payload, got[0].Payload),
		"payload must survive compression round-trip including large ints")
}

func TestRecordAttempt_DuplicateTokenRejected(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	att := &Attempt{Token: "tok", At: time.Now(), Status: StatusOK}
	require.NoError(t, j.RecordAttempt(ctx, att))

	dup := &Attempt{Token: "tok", At: time.Now(), Status: StatusOK}
	assert.Error(t, j.RecordAttempt(ctx, dup))
}

func TestRecordAttempt_InvalidStatus(t *testing.T) {
	j := openTestJournal(t)
	err := j.RecordAttempt(context.Background(), &Attempt{Token: "t", At: time.Now(), Status: "pending"})
	assert.Error(t, err)
}

func TestAttempts_Ordering(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, tok := range []string{"a", "b", "c"} {
		require.NoError(t, j.RecordAttempt(ctx, &Attempt{Token: tok, At: time.Now(), Status: StatusOK}))
	}
	got, err := j.Attempts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Token)
	assert.Equal(t, "c", got[2].Token)
	assert.Less(t, got[0].Seq, got[1].Seq)
}

func TestBaseline_UpsertAndDelete(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.PutBaseline(ctx, "title", record.String("v1"), 1))
	require.NoError(t, j.PutBaseline(ctx, "tags", record.List{record.Object{"id": record.Int(1)}}, 1))
	require.NoError(t, j.PutBaseline(ctx, "title", record.String("v2"), 2))

	base, err := j.Baseline(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.String("v2"), base["title"])
	assert.True(t, record.Equal(record.List{record.Object{"id": record.Int(1)}}, base["tags"]))

	require.NoError(t, j.PutBaseline(ctx, "tags", nil, 3))
	base, err = j.Baseline(ctx)
	require.NoError(t, err)
	assert.NotContains(t, base, "tags")
}

func TestStats(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordAttempt(ctx, &Attempt{Token: "1", At: time.Now(), Status: StatusOK}))
	require.NoError(t, j.RecordAttempt(ctx, &Attempt{Token: "2", At: time.Now(), Status: StatusFailed, Code: "TRANSPORT_ERROR"}))
	require.NoError(t, j.RecordAttempt(ctx, &Attempt{Token: "3", At: time.Now(), RetryCount: 1, Status: StatusOK}))

	s, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Succeeded: 2, Failed: 1, Retried: 1}, s)
}

func TestStats_Empty(t *testing.T) {
	j := openTestJournal(t)
	s, err := j.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, s)
}
