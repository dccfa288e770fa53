package stats

import (
	"fmt"
	"sort"

	"github.com/obsidianstack/flowcounters/internal/counter"
)

// BackendStage is a stage that ran as a job on the distributed backend. Its
// counters are fetched from Jobs on every read; nothing is cached.
type BackendStage struct {
	StageID   string
	StageName string
	Job       string
	Jobs      JobSource
	Tags      map[Tag]counter.Key
}

var (
	_ Stage      = (*BackendStage)(nil)
	_ BackendJob = (*BackendStage)(nil)
)

func (s *BackendStage) ID() string { return s.StageID }
func (s *BackendStage) Name() string { return s.StageName }
func (s *BackendStage) Mode() Mode { return ModeBackend }
func (s *BackendStage) Backend() BackendJob { return s }
func (s *BackendStage) Local() LocalCounters { return nil }

// JobID returns the external job id, or ErrNoJobID if the stage never got one.
func (s *BackendStage) JobID() (string, error) {
	if s.Job == "" {
		return "", ErrNoJobID
	}
	return s.Job, nil
}

// Counters fetches the job's current registry.
func (s *BackendStage) Counters() (*Registry, error) {
	id, err := s.JobID()
	if err != nil {
		return nil, err
	}
	if s.Jobs == nil {
		return nil, fmt.Errorf("stats: stage %q has no job source", s.StageID)
	}
	return s.Jobs.JobCounters(id)
}

// Lookup resolves tag against the stage bindings and reads it from the
// backend registry.
func (s *BackendStage) Lookup(tag Tag) (int64, error) {
	key, ok := resolveTag(s.Tags, tag)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	reg, err := s.Counters()
	if err != nil {
		return 0, err
	}
	g, ok := reg.Group(key.Group)
	if !ok {
		return 0, fmt.Errorf("%w: %s:%s", ErrNotSet, key.Group, key.Name)
	}
	return g.Counter(key.Name), nil
}

// LocalStage is a stage that ran in local mode with an in-memory counter
// table of group -> name -> value.
type LocalStage struct {
	StageID   string
	StageName string
	Values    map[string]map[string]int64
	Tags      map[Tag]counter.Key
}

var (
	_ Stage         = (*LocalStage)(nil)
	_ LocalCounters = (*LocalStage)(nil)
)

func (s *LocalStage) ID() string { return s.StageID }
func (s *LocalStage) Name() string { return s.StageName }
func (s *LocalStage) Mode() Mode { return ModeLocal }
func (s *LocalStage) Backend() BackendJob { return nil }
func (s *LocalStage) Local() LocalCounters { return s }

// Groups returns the group names, sorted.
func (s *LocalStage) Groups() ([]string, error) {
	groups := make([]string, 0, len(s.Values))
	for g := range s.Values {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// Names returns the counter names in group, sorted. A missing group has none.
func (s *LocalStage) Names(group string) ([]string, error) {
	counters := s.Values[group]
	names := make([]string, 0, len(counters))
	for n := range counters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Value returns group:name, or ErrNotSet if it was never set.
func (s *LocalStage) Value(group, name string) (int64, error) {
	v, ok := s.Values[group][name]
	if !ok {
		return 0, fmt.Errorf("%w: %s:%s", ErrNotSet, group, name)
	}
	return v, nil
}

// Lookup resolves tag against the stage bindings and reads it locally.
func (s *LocalStage) Lookup(tag Tag) (int64, error) {
	key, ok := resolveTag(s.Tags, tag)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return s.Value(key.Group, key.Name)
}
