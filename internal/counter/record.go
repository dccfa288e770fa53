package counter

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ErrInvalid is returned by New when group or name is empty.
var ErrInvalid = errors.New("counter: group and name are required")

// Value is a counter value that is either a known integer or unknown.
type Value struct {
	n     int64
	known bool
}

// Unknown is the value of a counter that could not be read.
var Unknown = Value{}

// Known wraps n as a known value.
func Known(n int64) Value {
	return Value{n: n, known: true}
}

// Get returns the integer and whether it is known.
func (v Value) Get() (int64, bool) {
	return v.n, v.known
}

func (v Value) String() string {
	if !v.known {
		return "unknown"
	}
	return strconv.FormatInt(v.n, 10)
}

// Key is the identity of a Record. It is comparable and can key maps.
type Key struct {
	Group string
	Name  string
}

// Record is one counter read from one stage. The zero Record is not valid;
// build records with New or MustNew.
type Record struct {
	Group string
	Name  string
	value Value
}

// New returns a Record for group:name holding v.
func New(group, name string, v Value) (Record, error) {
	if group == "" || name == "" {
		return Record{}, fmt.Errorf("%w (group=%q name=%q)", ErrInvalid, group, name)
	}
	return Record{Group: group, Name: name, value: v}, nil
}

// MustNew is like New but panics on an empty group or name.
func MustNew(group, name string, v Value) Record {
	r, err := New(group, name, v)
	if err != nil {
		panic(err)
	}
	return r
}

// Value returns the counter value.
func (r Record) Value() Value {
	return r.value
}

// Positive reports whether the value is known and strictly greater than zero.
func (r Record) Positive() bool {
	n, ok := r.value.Get()
	return ok && n > 0
}

// Key returns the (group, name) identity of r.
func (r Record) Key() Key {
	return Key{Group: r.Group, Name: r.Name}
}

// Compare orders records by group, then name. Values are ignored.
func (r Record) Compare(o Record) int {
	if c := cmp.Compare(r.Group, o.Group); c != 0 {
		return c
	}
	return cmp.Compare(r.Name, o.Name)
}

// Less reports whether r sorts before o.
func (r Record) Less(o Record) bool {
	return r.Compare(o) < 0
}

// Equal reports whether r and o share the same group and name.
func (r Record) Equal(o Record) bool {
	return r.Key() == o.Key()
}

// String renders the record as "group:name = value".
func (r Record) String() string {
	return r.Group + ":" + r.Name + " = " + r.value.String()
}

// Sort orders records in place by (group, name). Records with equal keys keep
// their relative order.
func Sort(records []Record) {
	slices.SortStableFunc(records, Record.Compare)
}
