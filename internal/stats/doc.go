// Package stats describes the read-only view of a pipeline run that counters
// are extracted from.
//
// A Stage is one unit of the run's execution plan. Stages come in two modes:
//   - ModeBackend: the stage ran as a job on the distributed backend. Backend()
//     returns the job handle; its counters are fetched as a whole Registry from
//     the job-tracking service and may already have been evicted.
//   - ModeLocal: the stage ran in an alternate (local) mode. Local() returns a
//     simple group/name/value accessor.
//
// Registry holds one job's counters as a Prometheus metric family named
// stage_counter with "group" and "counter" labels, the same shape the
// job-tracking service exposes over HTTP.
//
// BackendStage and LocalStage are the concrete stages built from config.
// Every accessor here may fail; callers treat failure as absent data.
package stats
