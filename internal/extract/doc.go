// Package extract reads the counters of a single pipeline stage.
//
// Reader picks its strategy from the stage mode: backend stages are read from
// the job registry fetched from the tracking service, local stages through the
// group/name/value accessor. Every call that reaches into the external source
// passes through a recovery boundary that turns errors and panics into empty
// or zero results plus a log line, so one unreadable stage never aborts a
// larger aggregation. Output lists are always sorted by (group, name).
package extract
