// Package report renders aggregated counters as fixed-width text for console
// and log output, and as YAML for programmatic consumers.
//
// A run report is framed by a 90-character "=" rule, names the run and its
// endpoints, then lists each stage's strictly positive counters. A stage that
// printed Tuples_Read but not Tuples_Written gets a black-hole warning line.
package report
