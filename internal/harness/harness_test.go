package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scribe/internal/record"
)

var goldenScenarios = []string{
	"basic_edit_flush",
	"undo_redo",
	"save_retry",
	"validation_block",
	"hydrate_resets",
	"checkpoint_rollback",
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range goldenScenarios {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", name+".yaml"))
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_BasicEditFlush(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "basic_edit_flush.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "edit", result.Trace[0].Type)
	assert.Equal(t, "flush", result.Trace[1].Type)
	assert.Equal(t, "ok", result.Trace[1].Status)
	assert.Equal(t, "attempt-1", result.Trace[1].Token)
	assert.Equal(t, record.String("updated"), result.Final["title"])
	assert.Equal(t, record.String("updated"), result.Baseline["title"])
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "save_retry.yaml"))
	require.NoError(t, err)

	r1, err := Run(scenario)
	require.NoError(t, err)
	r2, err := Run(scenario)
	require.NoError(t, err)

	d1, err := record.MarshalCanonical(snapshotObject(scenario.Name, r1))
	require.NoError(t, err)
	d2, err := record.MarshalCanonical(snapshotObject(scenario.Name, r2))
	require.NoError(t, err)
	assert.Equal(t, string(d1), string(d2))
}
