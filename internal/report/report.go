package report

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/flowcounters/internal/aggregate"
	"github.com/obsidianstack/flowcounters/internal/counter"
	"github.com/obsidianstack/flowcounters/internal/extract"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

// RuleWidth is the width of the separator line framing every report.
const RuleWidth = 90

// Counter names checked by the black-hole heuristic. Matched literally.
const (
	tuplesRead    = "Tuples_Read"
	tuplesWritten = "Tuples_Written"
)

const blackHoleWarning = "  *** BLACK HOLE WARNING *** The above stage had input but no output"

var rule = strings.Repeat("=", RuleWidth)

// Formatter renders counter reports.
type Formatter struct {
	agg *aggregate.Aggregator
}

// New returns a Formatter reading through agg. A nil agg uses a default
// Aggregator.
func New(agg *aggregate.Aggregator) *Formatter {
	if agg == nil {
		agg = aggregate.New(nil)
	}
	return &Formatter{agg: agg}
}

// Run renders the per-stage report for run. Stages appear in run order; a
// stage listed more than once is printed once. Stages CountersByStage leaves
// out are not printed.
func (f *Formatter) Run(run *stats.Run) (string, error) {
	byStage, err := f.agg.CountersByStage(run)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(rule + "\n")
	if run.Name == "" {
		b.WriteString("Counters for unnamed pipeline\n")
	} else {
		fmt.Fprintf(&b, "Counters for pipeline %s\n", run.Name)
	}
	fmt.Fprintf(&b, "  with input %s\n", Endpoints(run.Sources))
	fmt.Fprintf(&b, "  and output %s\n", Endpoints(run.Sinks))

	seen := make(map[stats.Stage]bool, len(byStage))
	for _, stage := range run.Stages {
		if stats.CheckStage(stage) != nil || seen[stage] {
			continue
		}
		seen[stage] = true
		writeStage(&b, extract.StageName(stage), byStage[stage])
	}

	b.WriteString(rule + "\n")
	return b.String(), nil
}

// Print writes the report for run to w.
func (f *Formatter) Print(w io.Writer, run *stats.Run) error {
	s, err := f.Run(run)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}

// Job renders the flat report of a single job's counters.
func (f *Formatter) Job(name string, records []counter.Record) string {
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Counters for job %s\n", name)
	if writePositive(&b, records) == 0 {
		b.WriteString("    No counters found.\n")
	}
	b.WriteString(rule + "\n")
	return b.String()
}

// Endpoints renders a compact endpoint list: [], ["a"] or ["a",...].
func Endpoints(eps []stats.Endpoint) string {
	switch {
	case len(eps) == 0:
		return "[]"
	case eps[0] == nil:
		return "[null endpoint]"
	case len(eps) == 1:
		return `["` + eps[0].Identifier() + `"]`
	default:
		return `["` + eps[0].Identifier() + `",...]`
	}
}

// RunMapYAML renders m as YAML with keys sorted at every level.
func RunMapYAML(m aggregate.RunMap) ([]byte, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("report: encode run map: %w", err)
	}
	return out, nil
}

func writeStage(b *strings.Builder, name string, records []counter.Record) {
	fmt.Fprintf(b, "  Stage: %s\n", name)
	if writePositive(b, records) == 0 {
		b.WriteString("    No counters found.\n")
		return
	}
	if blackHole(records) {
		b.WriteString(blackHoleWarning + "\n")
	}
}

// writePositive writes every record with a known value above zero and
// returns how many it wrote.
func writePositive(b *strings.Builder, records []counter.Record) int {
	n := 0
	for _, r := range records {
		if !r.Positive() {
			continue
		}
		b.WriteString("    " + r.String() + "\n")
		n++
	}
	return n
}

// blackHole reports whether the printable counters show input but no output.
func blackHole(records []counter.Record) bool {
	var read, written bool
	for _, r := range records {
		if !r.Positive() {
			continue
		}
		switch r.Name {
		case tuplesRead:
			read = true
		case tuplesWritten:
			written = true
		}
	}
	return read && !written
}
