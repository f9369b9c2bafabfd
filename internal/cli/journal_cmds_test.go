package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/journal"
	"github.com/roach88/scribe/internal/record"
)

// seedJournal creates a journal with two attempts and a baseline.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	ok := &journal.Attempt{
		Token:   "tok-ok",
		At:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: record.Object{"title": record.String("draft")},
		Status:  journal.StatusOK,
	}
	require.NoError(t, j.RecordAttempt(ctx, ok))
	require.NoError(t, j.RecordAttempt(ctx, &journal.Attempt{
		Token:      "tok-fail",
		At:         time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
		RetryCount: 1,
		Payload:    record.Object{"title": record.String("draft2")},
		Status:     journal.StatusFailed,
		Code:       "TRANSPORT_ERROR",
		Error:      "connection reset",
	}))
	require.NoError(t, j.PutBaseline(ctx, "title", record.String("draft"), ok.Seq))
	return path
}

func TestTrace_Text(t *testing.T) {
	db := seedJournal(t)
	out, err := executeCommand(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "tok-ok")
	assert.Contains(t, out, "tok-fail")
	assert.Contains(t, out, "TRANSPORT_ERROR: connection reset")
}

func TestTrace_JSONWithPayloads(t *testing.T) {
	db := seedJournal(t)
	out, err := executeCommand(t, "--format", "json", "trace", "--db", db, "--payloads")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"token":"tok-ok"`)
	assert.Contains(t, out, `"draft"`)
}

func TestTrace_EmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	out, err := executeCommand(t, "trace", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no attempts recorded")
}

func TestTrace_MissingDB(t *testing.T) {
	_, err := executeCommand(t, "trace", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStats_Text(t *testing.T) {
	db := seedJournal(t)
	out, err := executeCommand(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "attempts:  2")
	assert.Contains(t, out, "succeeded: 1")
	assert.Contains(t, out, "failed:    1")
	assert.Contains(t, out, "retried:   1")
}

func TestStats_JSON(t *testing.T) {
	db := seedJournal(t)
	out, err := executeCommand(t, "--format", "json", "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"total":2`)
	assert.Contains(t, out, `"succeeded":1`)
}

func TestReplay_PrintsBaseline(t *testing.T) {
	db := seedJournal(t)
	out, err := executeCommand(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `{"title":"draft"}`)
}

func TestReplay_EmptyBaselineFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = executeCommand(t, "replay", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
