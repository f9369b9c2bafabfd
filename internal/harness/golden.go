package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/scribe/internal/record"
)

// snapshotObject renders a completed session as one canonical object.
// Canonical JSON keeps golden files byte-stable across runs.
func snapshotObject(name string, result *Result) record.Object {
	traceList := make(record.List, len(result.Trace))
	for i, ev := range result.Trace {
		eventObj := record.Object{
			"type": record.String(ev.Type),
			"seq":  record.Int(int64(ev.Seq)),
		}
		if ev.Path != "" {
			eventObj["path"] = record.String(ev.Path)
		}
		if ev.Value != nil {
			eventObj["value"] = ev.Value
		}
		switch ev.Type {
		case "undo", "redo", "undo_to_checkpoint":
			eventObj["applied"] = record.Bool(ev.Applied)
		}
		if ev.Token != "" {
			eventObj["token"] = record.String(ev.Token)
		}
		if ev.Payload != nil {
			eventObj["payload"] = ev.Payload
		}
		if ev.Status != "" {
			eventObj["status"] = record.String(ev.Status)
		}
		if ev.Code != "" {
			eventObj["code"] = record.String(ev.Code)
		}
		traceList[i] = eventObj
	}

	obj := record.Object{
		"scenario_name": record.String(name),
		"trace":         traceList,
		"final":         result.Final,
	}
	if result.Baseline != nil {
		obj["baseline"] = result.Baseline
	}
	return obj
}

// RunWithGolden executes a scenario and compares the session snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	data, err := record.MarshalCanonical(snapshotObject(scenario.Name, result))
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
