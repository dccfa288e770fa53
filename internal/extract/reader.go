package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/obsidianstack/flowcounters/internal/counter"
	"github.com/obsidianstack/flowcounters/internal/stats"
)

var errNilRegistry = errors.New("job returned no counters")

// Reader extracts counters from one stage at a time. It holds no state
// besides its logger and is safe to reuse.
type Reader struct {
	logger *slog.Logger
}

// NewReader returns a Reader logging to logger, or to slog.Default() if nil.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

// Read returns every counter of stage, sorted.
func (r *Reader) Read(stage stats.Stage) (out []counter.Record) {
	defer r.recoverStage("read")
	return r.read(stage, "", false)
}

// ReadGroup returns the counters of one group of stage, sorted. A group the
// stage never published yields no records.
func (r *Reader) ReadGroup(stage stats.Stage, group string) (out []counter.Record) {
	defer r.recoverStage("read group")
	return r.read(stage, group, true)
}

// ReadJob returns every counter of a single backend job, sorted.
func (r *Reader) ReadJob(job stats.BackendJob) (out []counter.Record) {
	defer r.recoverStage("read job")
	if job == nil {
		r.logger.Error("extract: nil job handle")
		return nil
	}
	reg, ok := r.registry(job, slog.String("job", r.jobLabel(job)))
	if !ok {
		return nil
	}
	records := r.fromRegistry(reg, "", false)
	counter.Sort(records)
	return records
}

// Groups returns the counter groups of stage, sorted. Any failure to
// enumerate yields an empty list.
func (r *Reader) Groups(stage stats.Stage) (out []string) {
	defer r.recoverStage("groups")
	if r.isNil(stage) {
		return nil
	}
	var groups []string
	switch stage.Mode() {
	case stats.ModeBackend:
		reg, ok := r.stageRegistry(stage)
		if !ok {
			return nil
		}
		groups = reg.GroupNames()
	case stats.ModeLocal:
		groups = r.localGroups(stage)
	default:
		r.unknownMode(stage)
		return nil
	}
	sort.Strings(groups)
	return groups
}

// Value returns group:name for stage. A counter that was never set, or that
// cannot be read, counts as zero.
func (r *Reader) Value(stage stats.Stage, group, name string) (v int64) {
	defer r.recoverStage("value")
	if r.isNil(stage) {
		return 0
	}
	switch stage.Mode() {
	case stats.ModeBackend:
		reg, ok := r.stageRegistry(stage)
		if !ok {
			return 0
		}
		g, ok := reg.Group(group)
		if !ok {
			r.logValueErr(stage, group, name, stats.ErrNotSet)
			return 0
		}
		n, ok := g.Get(name)
		if !ok {
			r.logValueErr(stage, group, name, stats.ErrNotSet)
			return 0
		}
		return n
	case stats.ModeLocal:
		lc := stage.Local()
		if lc == nil {
			r.logger.Error("extract: local stage has no counter accessor", "stage", StageID(stage))
			return 0
		}
		n, err := call(func() (int64, error) { return lc.Value(group, name) })
		if err != nil {
			r.logValueErr(stage, group, name, err)
			return 0
		}
		return n
	default:
		r.unknownMode(stage)
		return 0
	}
}

// Tagged returns the value stage resolves tag to, or zero if it cannot.
func (r *Reader) Tagged(stage stats.Stage, tag stats.Tag) (v int64) {
	defer r.recoverStage("tagged")
	if r.isNil(stage) {
		return 0
	}
	n, err := call(func() (int64, error) { return stage.Lookup(tag) })
	if err != nil {
		r.logValueErr(stage, "", string(tag), err)
		return 0
	}
	return n
}

// JobID returns the external job id of a backend stage. ok is false for local
// stages and for backend stages whose id cannot be recovered.
func (r *Reader) JobID(stage stats.Stage) (id string, ok bool) {
	defer r.recoverStage("job id")
	if errors.Is(stats.CheckStage(stage), stats.ErrNilStage) || stage.Mode() != stats.ModeBackend {
		return "", false
	}
	job := stage.Backend()
	if job == nil {
		return "", false
	}
	jobID, err := call(job.JobID)
	if err != nil || jobID == "" {
		r.logger.Info("extract: stage has no job id", "stage", StageID(stage), "err", err)
		return "", false
	}
	return jobID, true
}

func (r *Reader) read(stage stats.Stage, group string, filter bool) []counter.Record {
	if r.isNil(stage) {
		return nil
	}
	var out []counter.Record
	switch stage.Mode() {
	case stats.ModeBackend:
		if reg, ok := r.stageRegistry(stage); ok {
			out = r.fromRegistry(reg, group, filter)
		}
	case stats.ModeLocal:
		out = r.fromLocal(stage, group, filter)
	default:
		r.unknownMode(stage)
	}
	counter.Sort(out)
	return out
}

func (r *Reader) stageRegistry(stage stats.Stage) (*stats.Registry, bool) {
	job := stage.Backend()
	if job == nil {
		r.logger.Error("extract: backend stage has no job handle", "stage", StageID(stage))
		return nil, false
	}
	return r.registry(job, slog.String("stage", StageID(stage)))
}

func (r *Reader) registry(job stats.BackendJob, attr slog.Attr) (*stats.Registry, bool) {
	reg, err := call(job.Counters)
	if err == nil && reg == nil {
		err = errNilRegistry
	}
	if err != nil {
		r.logger.Warn("extract: could not read job counters", attr, "err", err)
		return nil, false
	}
	return reg, true
}

func (r *Reader) fromRegistry(reg *stats.Registry, group string, filter bool) []counter.Record {
	groups := reg.GroupNames()
	if filter {
		groups = []string{group}
	}
	var out []counter.Record
	for _, name := range groups {
		g, ok := reg.Group(name)
		if !ok {
			r.logger.Debug("extract: group not published", "group", name)
			continue
		}
		for _, c := range g.Counters() {
			out = r.appendRecord(out, name, c.Name, counter.Known(c.Value))
		}
	}
	return out
}

func (r *Reader) fromLocal(stage stats.Stage, group string, filter bool) []counter.Record {
	lc := stage.Local()
	if lc == nil {
		r.logger.Error("extract: local stage has no counter accessor", "stage", StageID(stage))
		return nil
	}
	var out []counter.Record
	for _, g := range r.localGroups(stage) {
		if filter && g != group {
			continue
		}
		names, err := call(func() ([]string, error) { return lc.Names(g) })
		if err != nil {
			r.logger.Warn("extract: could not list counters",
				"stage", StageID(stage), "group", g, "err", err)
			continue
		}
		for _, n := range names {
			v := counter.Unknown
			n64, err := call(func() (int64, error) { return lc.Value(g, n) })
			if err != nil {
				r.logValueErr(stage, g, n, err)
			} else {
				v = counter.Known(n64)
			}
			out = r.appendRecord(out, g, n, v)
		}
	}
	return out
}

func (r *Reader) localGroups(stage stats.Stage) []string {
	lc := stage.Local()
	if lc == nil {
		r.logger.Error("extract: local stage has no counter accessor", "stage", StageID(stage))
		return nil
	}
	groups, err := call(lc.Groups)
	if err != nil {
		r.logger.Warn("extract: could not list counter groups", "stage", StageID(stage), "err", err)
		return nil
	}
	return groups
}

func (r *Reader) appendRecord(out []counter.Record, group, name string, v counter.Value) []counter.Record {
	rec, err := counter.New(group, name, v)
	if err != nil {
		r.logger.Warn("extract: skipping malformed counter", "err", err)
		return out
	}
	return append(out, rec)
}

func (r *Reader) logValueErr(stage stats.Stage, group, name string, err error) {
	if errors.Is(err, stats.ErrNotSet) {
		r.logger.Info("extract: counter not set",
			"stage", StageID(stage), "group", group, "counter", name)
		return
	}
	r.logger.Warn("extract: could not read counter",
		"stage", StageID(stage), "group", group, "counter", name, "err", err)
}

func (r *Reader) unknownMode(stage stats.Stage) {
	r.logger.Error("extract: unknown stage mode", "stage", StageID(stage), "mode", stage.Mode().String())
}

func (r *Reader) jobLabel(job stats.BackendJob) string {
	id, err := call(job.JobID)
	if err != nil {
		return "unknown"
	}
	return id
}

// isNil logs and reports a nil stage or nil stage pointer.
func (r *Reader) isNil(stage stats.Stage) bool {
	if errors.Is(stats.CheckStage(stage), stats.ErrNilStage) {
		r.logger.Error("extract: nil stage")
		return true
	}
	return false
}

// recoverStage turns a panic raised by a stage accessor into a log line; the
// caller's named results keep their zero values.
func (r *Reader) recoverStage(op string) {
	if p := recover(); p != nil {
		r.logger.Warn("extract: stage panicked", "op", op, "panic", fmt.Sprint(p))
	}
}

// StageID returns stage.ID(), or "" if the stage cannot report one.
func StageID(stage stats.Stage) string {
	id, _ := call(func() (string, error) { return stage.ID(), nil })
	return id
}

// StageName returns the display name of stage, falling back to its id.
func StageName(stage stats.Stage) string {
	name, _ := call(func() (string, error) { return stage.Name(), nil })
	if name == "" {
		return StageID(stage)
	}
	return name
}

// call invokes fn and converts a panic raised by the external source into an
// error.
func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero T
			v, err = zero, fmt.Errorf("counter source panicked: %v", p)
		}
	}()
	return fn()
}
