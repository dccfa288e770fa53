package stats

import (
	"fmt"
	"math"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"go.uber.org/multierr"
	"google.golang.org/protobuf/proto"
)

// Wire shape of backend counters.
const (
	FamilyName   = "stage_counter"
	GroupLabel   = "group"
	CounterLabel = "counter"
)

// Counter is one named value inside a Group.
type Counter struct {
	Name  string
	Value int64
}

// Group is a named set of counters in a Registry, kept in publish order.
type Group struct {
	name   string
	order  []string
	values map[string]int64
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Counters returns the group's counters in publish order.
func (g *Group) Counters() []Counter {
	out := make([]Counter, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, Counter{Name: n, Value: g.values[n]})
	}
	return out
}

// Counter returns the named counter's value, or 0 if it was never published.
func (g *Group) Counter(name string) int64 {
	return g.values[name]
}

// Get returns the named counter's value and whether it was published.
func (g *Group) Get(name string) (int64, bool) {
	v, ok := g.values[name]
	return v, ok
}

func (g *Group) set(name string, v int64) {
	if _, ok := g.values[name]; !ok {
		g.order = append(g.order, name)
	}
	g.values[name] = v
}

// Registry is the full counter set of one backend job.
type Registry struct {
	family *dto.MetricFamily
	groups map[string]*Group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		family: &dto.MetricFamily{
			Name: proto.String(FamilyName),
			Help: proto.String("Pipeline stage counters by group."),
			Type: dto.MetricType_COUNTER.Enum(),
		},
		groups: make(map[string]*Group),
	}
}

// Set publishes group:name = v, replacing any earlier value.
func (r *Registry) Set(group, name string, v int64) {
	g := r.group(group)
	if _, ok := g.values[name]; ok {
		for _, m := range r.family.Metric {
			if labelValue(m, GroupLabel) == group && labelValue(m, CounterLabel) == name {
				m.Counter = &dto.Counter{Value: proto.Float64(float64(v))}
			}
		}
	} else {
		r.family.Metric = append(r.family.Metric, &dto.Metric{
			Label: []*dto.LabelPair{
				{Name: proto.String(CounterLabel), Value: proto.String(name)},
				{Name: proto.String(GroupLabel), Value: proto.String(group)},
			},
			Counter: &dto.Counter{Value: proto.Float64(float64(v))},
		})
	}
	g.set(name, v)
}

// GroupNames returns the published group names, sorted.
func (r *Registry) GroupNames() []string {
	names := make([]string, 0, len(r.groups))
	for n := range r.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Group returns the named group and whether it exists.
func (r *Registry) Group(name string) (*Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Family returns the registry as a Prometheus metric family.
func (r *Registry) Family() *dto.MetricFamily {
	return r.family
}

// Len returns the number of counters across all groups.
func (r *Registry) Len() int {
	return len(r.family.Metric)
}

func (r *Registry) group(name string) *Group {
	g, ok := r.groups[name]
	if !ok {
		g = &Group{name: name, values: make(map[string]int64)}
		r.groups[name] = g
	}
	return g
}

// RegistryFromFamilies builds a Registry from parsed metric families. Only the
// stage_counter family is read. Samples without a group or counter label, or
// without a numeric value, are skipped and reported in the returned error; the
// Registry holds everything that was usable and is never nil.
func RegistryFromFamilies(mfs map[string]*dto.MetricFamily) (*Registry, error) {
	reg := NewRegistry()
	mf, ok := mfs[FamilyName]
	if !ok || mf == nil {
		return reg, nil
	}

	var errs error
	for i, m := range mf.GetMetric() {
		group := labelValue(m, GroupLabel)
		name := labelValue(m, CounterLabel)
		if group == "" || name == "" {
			errs = multierr.Append(errs, fmt.Errorf("sample %d: missing %s or %s label", i, GroupLabel, CounterLabel))
			continue
		}
		v, ok := sampleValue(m)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("sample %d %s:%s: no usable value", i, group, name))
			continue
		}
		reg.Set(group, name, v)
	}
	return reg, errs
}

func labelValue(m *dto.Metric, label string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}

// sampleValue reads a counter, gauge or untyped sample as an integer. Values
// outside the int64 range are rejected.
func sampleValue(m *dto.Metric) (int64, bool) {
	var f float64
	switch {
	case m.Counter != nil:
		f = m.Counter.GetValue()
	case m.Gauge != nil:
		f = m.Gauge.GetValue()
	case m.Untyped != nil:
		f = m.Untyped.GetValue()
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
