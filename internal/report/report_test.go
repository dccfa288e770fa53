package report

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/flowcounters/internal/aggregate"
	"github.com/obsidianstack/flowcounters/internal/counter"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

func newFormatter() *Formatter {
	return New(aggregate.New(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func local(id, name string, values map[string]map[string]int64) *stats.LocalStage {
	return &stats.LocalStage{StageID: id, StageName: name, Values: values}
}

func TestRun_BlackHoleScenario(t *testing.T) {
	run := &stats.Run{
		Name:    "import",
		Sources: []stats.Endpoint{stats.Path("hdfs://in/a")},
		Stages: []stats.Stage{
			local("s1", "(1/1) sink", map[string]map[string]int64{
				"G": {"Tuples_Read": 10, "Tuples_Written": 0, "Bytes": 0},
			}),
		},
	}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)

	want := strings.Join([]string{
		strings.Repeat("=", 90),
		"Counters for pipeline import",
		`  with input ["hdfs://in/a"]`,
		"  and output []",
		"  Stage: (1/1) sink",
		"    G:Tuples_Read = 10",
		"  *** BLACK HOLE WARNING *** The above stage had input but no output",
		strings.Repeat("=", 90),
		"",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestRun_Framing(t *testing.T) {
	run := &stats.Run{
		Stages: []stats.Stage{
			local("a", "first", map[string]map[string]int64{"g": {"x": 1}}),
			local("b", "second", nil),
		},
	}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.Equal(t, rule, lines[0])
	assert.Equal(t, rule, lines[len(lines)-1])
	assert.Len(t, lines[0], RuleWidth)
	assert.Equal(t, "Counters for unnamed pipeline", lines[1])

	body := lines[4 : len(lines)-1]
	assert.Equal(t, []string{
		"  Stage: first",
		"    g:x = 1",
		"  Stage: second",
		"    No counters found.",
	}, body)
}

func TestRun_OnlyNonPositiveCountersPrintsNoCountersFound(t *testing.T) {
	run := &stats.Run{Stages: []stats.Stage{
		local("a", "zeroes", map[string]map[string]int64{"g": {"x": 0, "y": -3}}),
	}}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)
	assert.Contains(t, got, "  Stage: zeroes\n    No counters found.\n")
	assert.NotContains(t, got, "g:x")
}

func TestRun_BlackHoleHeuristic(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]int64
		want   bool
	}{
		{"read only", map[string]int64{"Tuples_Read": 3}, true},
		{"read and written", map[string]int64{"Tuples_Read": 3, "Tuples_Written": 3}, false},
		{"neither", map[string]int64{"Bytes": 3}, false},
		{"written only", map[string]int64{"Tuples_Written": 3}, false},
		{"read with zero written", map[string]int64{"Tuples_Read": 3, "Tuples_Written": 0}, true},
		{"zero read", map[string]int64{"Tuples_Read": 0, "Bytes": 1}, false},
		{"case differs", map[string]int64{"tuples_read": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &stats.Run{Stages: []stats.Stage{
				local("s", "stage", map[string]map[string]int64{"G": tt.values}),
			}}
			got, err := newFormatter().Run(run)
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.Contains(got, "BLACK HOLE WARNING"))
		})
	}
}

func TestRun_BlackHoleIsPerStage(t *testing.T) {
	run := &stats.Run{Stages: []stats.Stage{
		local("a", "reader", map[string]map[string]int64{"G": {"Tuples_Read": 5}}),
		local("b", "writer", map[string]map[string]int64{"G": {"Tuples_Written": 5}}),
	}}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got, "BLACK HOLE WARNING"))
	assert.Less(t, strings.Index(got, "BLACK HOLE"), strings.Index(got, "Stage: writer"))
}

func TestRun_DuplicateStagePrintedOnce(t *testing.T) {
	s := local("a", "dup", map[string]map[string]int64{"g": {"x": 1}})
	run := &stats.Run{Stages: []stats.Stage{s, s}}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got, "Stage: dup"))
	assert.Equal(t, 2, strings.Count(got, "g:x = 1"))
}

func TestRun_NilRun(t *testing.T) {
	_, err := newFormatter().Run(nil)
	assert.ErrorIs(t, err, aggregate.ErrNilRun)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	run := &stats.Run{Name: "p"}
	require.NoError(t, newFormatter().Print(&buf, run))
	assert.True(t, strings.HasPrefix(buf.String(), rule+"\n"))
}

func TestEndpoints(t *testing.T) {
	assert.Equal(t, "[]", Endpoints(nil))
	assert.Equal(t, `["a"]`, Endpoints([]stats.Endpoint{stats.Path("a")}))
	assert.Equal(t, `["a",...]`, Endpoints([]stats.Endpoint{stats.Path("a"), stats.Path("b")}))
	assert.Equal(t, `["a",...]`, Endpoints([]stats.Endpoint{stats.Path("a"), stats.Path("b"), stats.Path("c")}))
	assert.Equal(t, "[null endpoint]", Endpoints([]stats.Endpoint{nil, stats.Path("b")}))
}

func TestJob(t *testing.T) {
	records := []counter.Record{
		counter.MustNew("G", "Tuples_Read", counter.Known(10)),
		counter.MustNew("G", "Tuples_Written", counter.Known(0)),
		counter.MustNew("G", "Bytes", counter.Unknown),
	}

	got := newFormatter().Job("job_201", records)
	want := strings.Join([]string{
		rule,
		"Counters for job job_201",
		"    G:Tuples_Read = 10",
		rule,
		"",
	}, "\n")
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "BLACK HOLE")

	empty := newFormatter().Job("job_202", nil)
	assert.Contains(t, empty, "    No counters found.\n")
}

func TestRunMapYAML(t *testing.T) {
	m := aggregate.RunMap{
		"job_2": {"g": {"b": 2, "a": 1}},
		"job_1": {"g": {"x": 0}},
	}
	out, err := RunMapYAML(m)
	require.NoError(t, err)
	assert.Less(t, bytes.Index(out, []byte("job_1")), bytes.Index(out, []byte("job_2")))

	var back aggregate.RunMap
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, m, back)
}

// labelledStage wraps a stage in a value that carries a map, which makes it
// unusable as a map key.
type labelledStage struct {
	*stats.LocalStage
	labels map[string]string
}

func TestRun_SkipsNilAndIncomparableStages(t *testing.T) {
	var typedNil *stats.BackendStage
	run := &stats.Run{Name: "mixed", Stages: []stats.Stage{
		typedNil,
		labelledStage{LocalStage: local("v", "labelled", nil), labels: map[string]string{"team": "etl"}},
		local("a", "kept", map[string]map[string]int64{"g": {"x": 1}}),
	}}

	var got string
	require.NotPanics(t, func() {
		var err error
		got, err = newFormatter().Run(run)
		require.NoError(t, err)
	})
	assert.Equal(t, 1, strings.Count(got, "  Stage: "))
	assert.Contains(t, got, "  Stage: kept\n    g:x = 1\n")
}

func TestRun_UnnamedStageUsesID(t *testing.T) {
	run := &stats.Run{Stages: []stats.Stage{local("step-7", "", map[string]map[string]int64{"g": {"x": 1}})}}

	got, err := newFormatter().Run(run)
	require.NoError(t, err)
	assert.Contains(t, got, "  Stage: step-7\n")
}
