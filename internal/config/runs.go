package config

import (
	"github.com/obsidianstack/flowcounters/internal/counter"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

// Build returns the stats.Run described by r. Backend stages read their
// counters from jobs on every access.
func (r RunConfig) Build(jobs stats.JobSource) *stats.Run {
	run := &stats.Run{Name: r.Name}
	for _, s := range r.Sources {
		run.Sources = append(run.Sources, stats.Path(s))
	}
	for _, s := range r.Sinks {
		run.Sinks = append(run.Sinks, stats.Path(s))
	}

	for _, sc := range r.Stages {
		name := sc.Name
		if name == "" {
			name = sc.ID
		}
		tags := make(map[stats.Tag]counter.Key, len(sc.Tags))
		for tag, b := range sc.Tags {
			tags[stats.Tag(tag)] = counter.Key{Group: b.Group, Name: b.Name}
		}

		if sc.Mode == ModeLocal {
			run.Stages = append(run.Stages, &stats.LocalStage{
				StageID:   sc.ID,
				StageName: name,
				Values:    sc.Counters,
				Tags:      tags,
			})
			continue
		}
		run.Stages = append(run.Stages, &stats.BackendStage{
			StageID:   sc.ID,
			StageName: name,
			Job:       sc.JobID,
			Jobs:      jobs,
			Tags:      tags,
		})
	}
	return run
}
