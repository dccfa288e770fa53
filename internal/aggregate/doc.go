// Package aggregate combines per-stage counters into whole-run views.
//
// Aggregator drives one extract.Reader pass per stage and never fails for
// data-availability reasons: an unreadable stage, group or counter contributes
// nothing (or zero, for scalar sums) and aggregation continues. The only error
// returned is ErrNilRun, a caller bug.
//
// Views:
//   - CountersByStage: stage -> sorted records, one entry per stage
//   - Sum / SumTag: scalar totals across stages
//   - All / AllInGroup: every stage's records flattened and sorted, unmerged
//   - RunMap: job id -> group -> name -> value for backend stages
//   - JobMap / JobCounters: the same views for a single external job
package aggregate
