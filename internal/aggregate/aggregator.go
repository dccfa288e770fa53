package aggregate

import (
	"errors"
	"log/slog"

	"github.com/obsidianstack/flowcounters/internal/counter"
	"github.com/obsidianstack/flowcounters/internal/extract"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

// ErrNilRun is returned when an operation is called without a run.
var ErrNilRun = errors.New("aggregate: run is required")

// GroupMap is group -> counter name -> value for one external job.
type GroupMap map[string]map[string]int64

// RunMap is job id -> group -> counter name -> value for a pipeline run.
type RunMap map[string]GroupMap

func (m GroupMap) put(group, name string, v int64) {
	names, ok := m[group]
	if !ok {
		names = make(map[string]int64)
		m[group] = names
	}
	names[name] = v
}

// Aggregator computes run-wide counter views. Every call is a fresh read of
// the stages; nothing is cached between calls.
type Aggregator struct {
	logger *slog.Logger
	reader *extract.Reader
}

// New returns an Aggregator logging to logger, or to slog.Default() if nil.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger, reader: extract.NewReader(logger)}
}

// CountersByStage returns each stage's sorted counters keyed by the stage
// itself. Every stage gets an entry, even when nothing could be read from it.
// Nil stages and stages that cannot be map keys are logged and left out.
func (a *Aggregator) CountersByStage(run *stats.Run) (map[stats.Stage][]counter.Record, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	out := make(map[stats.Stage][]counter.Record, len(run.Stages))
	for _, stage := range run.Stages {
		if err := stats.CheckStage(stage); err != nil {
			a.logger.Error("aggregate: skipping stage", "run", run.Name, "err", err)
			continue
		}
		records, ok := out[stage]
		if !ok {
			records = []counter.Record{}
		}
		out[stage] = append(records, a.reader.Read(stage)...)
	}
	for stage, records := range out {
		counter.Sort(records)
		out[stage] = records
	}
	return out, nil
}

// Sum adds up group:name across every stage. Stages that cannot be read
// contribute zero.
func (a *Aggregator) Sum(run *stats.Run, group, name string) (int64, error) {
	if run == nil {
		return 0, ErrNilRun
	}
	var total int64
	for _, stage := range run.Stages {
		total += a.reader.Value(stage, group, name)
	}
	return total, nil
}

// SumTag adds up the counter each stage resolves tag to. Stages that cannot
// resolve or read it contribute zero.
func (a *Aggregator) SumTag(run *stats.Run, tag stats.Tag) (int64, error) {
	if run == nil {
		return 0, ErrNilRun
	}
	var total int64
	for _, stage := range run.Stages {
		total += a.reader.Tagged(stage, tag)
	}
	return total, nil
}

// All returns every stage's counters in one sorted list. Records with the
// same (group, name) from different stages stay separate.
func (a *Aggregator) All(run *stats.Run) ([]counter.Record, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	var out []counter.Record
	for _, stage := range run.Stages {
		out = append(out, a.reader.Read(stage)...)
	}
	counter.Sort(out)
	return out, nil
}

// AllInGroup is All restricted to one counter group.
func (a *Aggregator) AllInGroup(run *stats.Run, group string) ([]counter.Record, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	var out []counter.Record
	for _, stage := range run.Stages {
		out = append(out, a.reader.ReadGroup(stage, group)...)
	}
	counter.Sort(out)
	return out, nil
}

// RunMap returns job id -> group -> name -> value for every backend stage
// with a recoverable job id. Other stages are skipped and noted in the log.
// Counters with unknown values are left out.
func (a *Aggregator) RunMap(run *stats.Run) (RunMap, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	out := make(RunMap)
	for _, stage := range run.Stages {
		if errors.Is(stats.CheckStage(stage), stats.ErrNilStage) {
			a.logger.Error("aggregate: run has a nil stage", "run", run.Name)
			continue
		}
		jobID, ok := a.reader.JobID(stage)
		if !ok {
			a.logger.Debug("aggregate: skipping stage without job id", "stage", extract.StageID(stage))
			continue
		}
		records := a.reader.Read(stage)
		if len(records) == 0 {
			a.logger.Info("aggregate: no counters for job", "stage", extract.StageID(stage), "job", jobID)
			continue
		}
		groups, ok := out[jobID]
		if !ok {
			groups = make(GroupMap)
			out[jobID] = groups
		}
		fill(groups, records)
	}
	return out, nil
}

// JobMap returns group -> name -> value for a single external job. A job
// whose counters cannot be read yields an empty map.
func (a *Aggregator) JobMap(job stats.BackendJob) GroupMap {
	out := make(GroupMap)
	fill(out, a.reader.ReadJob(job))
	return out
}

// JobCounters returns the sorted counters of a single external job.
func (a *Aggregator) JobCounters(job stats.BackendJob) []counter.Record {
	return a.reader.ReadJob(job)
}

func fill(m GroupMap, records []counter.Record) {
	for _, r := range records {
		if v, ok := r.Value().Get(); ok {
			m.put(r.Group, r.Name, v)
		}
	}
}
