package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchemaDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "record.cue"), []byte(content), 0o644))
	return dir
}

func TestValidate_Success(t *testing.T) {
	dir := writeSchemaDir(t, `
record: Task: {
	fields: {
		title: {kind: "string", required: true, maxLen: 200}
	}
}
`)
	out, err := executeCommand(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestValidate_SuccessJSON(t *testing.T) {
	dir := writeSchemaDir(t, `
record: Task: {
	fields: {
		title: {kind: "string"}
	}
}
`)
	out, err := executeCommand(t, "--format", "json", "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"Task"`)
}

func TestValidate_BadSchemaFailsWithExitOne(t *testing.T) {
	dir := writeSchemaDir(t, `
record: Task: {
	fields: {
		title: {kind: "varchar"}
	}
}
`)
	out, err := executeCommand(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "unknown kind")
}

func TestValidate_MissingDirectoryIsCommandError(t *testing.T) {
	_, err := executeCommand(t, "validate", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_EmptyDirectoryIsCommandError(t *testing.T) {
	_, err := executeCommand(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
