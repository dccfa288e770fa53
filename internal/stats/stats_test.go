package stats

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/obsidianstack/flowcounters/internal/counter"
)

type fakeJobs map[string]*Registry

func (f fakeJobs) JobCounters(id string) (*Registry, error) {
	reg, ok := f[id]
	if !ok {
		return nil, ErrEvicted
	}
	return reg, nil
}

func TestRegistry_SetReplacesValue(t *testing.T) {
	reg := NewRegistry()
	reg.Set("g", "a", 1)
	reg.Set("g", "b", 2)
	reg.Set("g", "a", 5)

	g, ok := reg.Group("g")
	require.True(t, ok)
	assert.Equal(t, []Counter{{Name: "a", Value: 5}, {Name: "b", Value: 2}}, g.Counters())
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 5.0, reg.Family().GetMetric()[0].GetCounter().GetValue())
}

func TestRegistry_MissingCounterReadsZero(t *testing.T) {
	reg := NewRegistry()
	reg.Set("g", "a", 1)

	g, _ := reg.Group("g")
	assert.Zero(t, g.Counter("never"))

	_, ok := reg.Group("other")
	assert.False(t, ok)
}

func TestRegistryFromFamilies_SkipsUnlabelledSamples(t *testing.T) {
	body := `
# TYPE stage_counter counter
stage_counter{group="cascading.flow.StepCounters",counter="Tuples_Read"} 120
stage_counter{group="cascading.flow.StepCounters",counter="Tuples_Written"} 118
stage_counter{group="org.apache.hadoop.mapreduce.FileSystemCounter"} 7
# TYPE unrelated_total counter
unrelated_total 3
`
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(body))
	require.NoError(t, err)

	reg, err := RegistryFromFamilies(mfs)
	require.Error(t, err)
	require.NotNil(t, reg)

	assert.Equal(t, []string{"cascading.flow.StepCounters"}, reg.GroupNames())
	g, _ := reg.Group("cascading.flow.StepCounters")
	assert.Equal(t, int64(120), g.Counter("Tuples_Read"))
	assert.Equal(t, int64(118), g.Counter("Tuples_Written"))
}

func TestRegistryFromFamilies_NoFamily(t *testing.T) {
	reg, err := RegistryFromFamilies(nil)
	require.NoError(t, err)
	assert.Zero(t, reg.Len())
}

func TestBackendStage_Lookup(t *testing.T) {
	reg := NewRegistry()
	reg.Set("cascading.flow.StepCounters", "Tuples_Read", 40)
	reg.Set("custom", "rows", 9)

	s := &BackendStage{
		StageID: "s1",
		Job:     "job_1",
		Jobs:    fakeJobs{"job_1": reg},
		Tags:    map[Tag]counter.Key{"ROWS": {Group: "custom", Name: "rows"}},
	}

	v, err := s.Lookup(TagTuplesRead)
	require.NoError(t, err)
	assert.Equal(t, int64(40), v)

	v, err = s.Lookup("ROWS")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	_, err = s.Lookup("NOPE")
	assert.True(t, errors.Is(err, ErrUnknownTag))
}

func TestBackendStage_EvictedAndMissingJob(t *testing.T) {
	s := &BackendStage{StageID: "s1", Job: "job_gone", Jobs: fakeJobs{}}
	_, err := s.Counters()
	assert.True(t, errors.Is(err, ErrEvicted))

	s = &BackendStage{StageID: "s2"}
	_, err = s.JobID()
	assert.True(t, errors.Is(err, ErrNoJobID))
	_, err = s.Lookup(TagTuplesRead)
	assert.True(t, errors.Is(err, ErrNoJobID))
}

func TestLocalStage_Accessors(t *testing.T) {
	s := &LocalStage{
		StageID: "local",
		Values: map[string]map[string]int64{
			"b": {"y": 2, "x": 1},
			"a": {"z": 3},
		},
	}

	assert.Equal(t, ModeLocal, s.Mode())
	assert.Nil(t, s.Backend())

	groups, err := s.Groups()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, groups)

	names, err := s.Names("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	names, err = s.Names("missing")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Value("a", "nope")
	assert.True(t, errors.Is(err, ErrNotSet))

	_, err = s.Lookup(TagTuplesWritten)
	assert.True(t, errors.Is(err, ErrNotSet))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "backend", ModeBackend.String())
	assert.Equal(t, "local", ModeLocal.String())
	assert.Equal(t, "unknown", Mode(0).String())
}

func TestRegistryFromFamilies_RejectsOutOfRangeValues(t *testing.T) {
	body := `
# TYPE stage_counter counter
stage_counter{group="g",counter="ok"} 9007199254740992
stage_counter{group="g",counter="huge"} 1e19
stage_counter{group="g",counter="tiny"} -1e19
`
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(body))
	require.NoError(t, err)

	reg, err := RegistryFromFamilies(mfs)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	g, ok := reg.Group("g")
	require.True(t, ok)
	assert.Equal(t, []Counter{{Name: "ok", Value: 9007199254740992}}, g.Counters())
}

func TestGroup_Get(t *testing.T) {
	reg := NewRegistry()
	reg.Set("g", "zero", 0)
	g, _ := reg.Group("g")

	v, ok := g.Get("zero")
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = g.Get("never")
	assert.False(t, ok)
}

// mapStage is a legal Stage implemented on a value type that cannot be hashed.
type mapStage struct {
	values map[string]int64
}

func (m mapStage) ID() string { return "map" }
func (m mapStage) Name() string { return "map" }
func (m mapStage) Mode() Mode { return ModeLocal }
func (m mapStage) Backend() BackendJob { return nil }
func (m mapStage) Local() LocalCounters { return nil }
func (m mapStage) Lookup(Tag) (int64, error) { return 0, ErrNotSet }

func TestCheckStage(t *testing.T) {
	var typedNil *BackendStage

	tests := []struct {
		name  string
		stage Stage
		want  error
	}{
		{"nil interface", nil, ErrNilStage},
		{"nil pointer", typedNil, ErrNilStage},
		{"map-holding value", mapStage{values: map[string]int64{"a": 1}}, ErrIncomparableStage},
		{"backend pointer", &BackendStage{StageID: "b"}, nil},
		{"local pointer", &LocalStage{StageID: "l"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStage(tt.stage)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
