package stats

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/obsidianstack/flowcounters/internal/counter"
)

var (
	// ErrNotSet means the counter (or its group) was never published.
	ErrNotSet = errors.New("stats: counter not set")

	// ErrEvicted means the tracking service no longer holds the job's counters.
	ErrEvicted = errors.New("stats: job counters evicted")

	// ErrNoJobID means the stage has no recoverable external job identifier.
	ErrNoJobID = errors.New("stats: no job id")

	// ErrUnknownTag means a stage cannot resolve a symbolic counter tag.
	ErrUnknownTag = errors.New("stats: unknown counter tag")

	// ErrNilStage means a run holds a nil stage or a nil stage pointer.
	ErrNilStage = errors.New("stats: nil stage")

	// ErrIncomparableStage means a stage cannot be used as a map key.
	ErrIncomparableStage = errors.New("stats: stage is not comparable")
)

// Mode is the execution mode of a stage.
type Mode int

const (
	ModeBackend Mode = iota + 1
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeBackend:
		return "backend"
	case ModeLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Stage is the statistics of one pipeline stage.
//
// Backend is only meaningful when Mode is ModeBackend, Local only when Mode is
// ModeLocal. Lookup resolves a symbolic Tag to the stage's current value.
//
// Stages are used as map keys, so implementations must be comparable;
// pointer types are. See CheckStage.
type Stage interface {
	ID() string
	Name() string
	Mode() Mode
	Backend() BackendJob
	Local() LocalCounters
	Lookup(tag Tag) (int64, error)
}

// BackendJob is the handle of a stage that ran on the distributed backend.
type BackendJob interface {
	JobID() (string, error)
	Counters() (*Registry, error)
}

// LocalCounters is the counter accessor of a locally executed stage.
type LocalCounters interface {
	Groups() ([]string, error)
	Names(group string) ([]string, error)
	Value(group, name string) (int64, error)
}

// JobSource fetches the counters of an external job by id.
type JobSource interface {
	JobCounters(jobID string) (*Registry, error)
}

// Tag identifies a counter by a fixed symbolic name, the way framework
// counter enums do. Each stage decides which group and counter it maps to.
type Tag string

const (
	TagTuplesRead    Tag = "TUPLES_READ"
	TagTuplesWritten Tag = "TUPLES_WRITTEN"
	TagTuplesTrapped Tag = "TUPLES_TRAPPED"
)

// DefaultTags are the bindings used when a stage does not override a tag.
var DefaultTags = map[Tag]counter.Key{
	TagTuplesRead:    {Group: "cascading.flow.StepCounters", Name: "Tuples_Read"},
	TagTuplesWritten: {Group: "cascading.flow.StepCounters", Name: "Tuples_Written"},
	TagTuplesTrapped: {Group: "cascading.flow.StepCounters", Name: "Tuples_Trapped"},
}

// Endpoint is a declared input or output of a run.
type Endpoint interface {
	Identifier() string
}

// Path is an Endpoint identified by a plain string such as a URI.
type Path string

func (p Path) Identifier() string { return string(p) }

// Run is one execution of a multi-stage pipeline.
type Run struct {
	// Name is optional; an empty name renders as unnamed.
	Name    string
	Stages  []Stage
	Sources []Endpoint
	Sinks   []Endpoint
}

// CheckStage returns ErrNilStage if stage is nil or a nil pointer, and
// ErrIncomparableStage if its dynamic value cannot be hashed.
func CheckStage(stage Stage) error {
	if stage == nil {
		return ErrNilStage
	}
	v := reflect.ValueOf(stage)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			return ErrNilStage
		}
	}
	if !hashable(stage) {
		return fmt.Errorf("%w: %s", ErrIncomparableStage, v.Type())
	}
	return nil
}

func hashable(stage Stage) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[Stage]struct{}{stage: {}}
	return true
}

func resolveTag(overrides map[Tag]counter.Key, tag Tag) (counter.Key, bool) {
	if k, ok := overrides[tag]; ok {
		return k, true
	}
	k, ok := DefaultTags[tag]
	return k, ok
}
