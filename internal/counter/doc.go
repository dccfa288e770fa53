// Package counter defines Record, the (group, name, value) triple read from a
// pipeline stage. Records are ordered and compared by (group, name) only; the
// value is payload and may be unknown, which is distinct from zero.
package counter
