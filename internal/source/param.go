package source

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"dvbrx/internal/validity"
)

// ParamKind is the shape of a tunable parameter.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamIntList
	ParamString
)

func (k ParamKind) String() string {
	switch k {
	case ParamInt:
		return "int"
	case ParamIntList:
		return "int-list"
	case ParamString:
		return "string"
	default:
		return fmt.Sprintf("param(%d)", int(k))
	}
}

// Param is one named tunable value with its own bounds and validity.
type Param interface {
	Name() string
	Kind() ParamKind
	Valid() bool
	Validity() validity.Source
	Value() ParamValue
	String() string
	clone() Param
}

// ParamValue is the plain-data form of a parameter value.
type ParamValue struct {
	Kind ParamKind `json:"kind"`
	Ints []int     `json:"ints,omitempty"`
	Str  string    `json:"str,omitempty"`
}

// IntValue builds a single integer value.
func IntValue(v int) ParamValue { return ParamValue{Kind: ParamInt, Ints: []int{v}} }

// IntListValue builds an integer list value.
func IntListValue(v ...int) ParamValue {
	return ParamValue{Kind: ParamIntList, Ints: append([]int(nil), v...)}
}

// StringValue builds a string value.
func StringValue(v string) ParamValue { return ParamValue{Kind: ParamString, Str: v} }

// Equal reports whether two values hold the same data.
func (v ParamValue) Equal(o ParamValue) bool {
	return v.Kind == o.Kind && v.Str == o.Str && slices.Equal(v.Ints, o.Ints)
}

// String formats the value the way the config accepts it: a number, a
// comma-separated list or the raw string.
func (v ParamValue) String() string {
	switch v.Kind {
	case ParamString:
		return v.Str
	case ParamInt:
		if len(v.Ints) == 1 {
			return strconv.Itoa(v.Ints[0])
		}
	}
	parts := make([]string, len(v.Ints))
	for i, n := range v.Ints {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// IntParam is a bounded single integer. A negative minimum is clamped to zero;
// a negative maximum marks the range itself unusable.
type IntParam struct {
	name       string
	units      string
	value      int
	min        int
	max        int
	rangeValid bool
	tracker    *validity.Tracker
}

// NewIntParam constructs a bounded integer parameter.
func NewIntParam(name, units string, value, min, max int) *IntParam {
	p := &IntParam{name: name, units: units, value: value}
	p.applyLimits(min, max)
	p.tracker = validity.NewTracker(p.check())
	return p
}

func (p *IntParam) Name() string              { return p.name }
func (p *IntParam) Kind() ParamKind           { return ParamInt }
func (p *IntParam) Units() string             { return p.units }
func (p *IntParam) Valid() bool               { return p.tracker.Valid() }
func (p *IntParam) Validity() validity.Source { return p.tracker }
func (p *IntParam) Get() int                  { return p.value }
func (p *IntParam) Limits() (int, int)        { return p.min, p.max }
func (p *IntParam) Value() ParamValue         { return IntValue(p.value) }
func (p *IntParam) String() string            { return strconv.Itoa(p.value) }

// Set replaces the value and re-evaluates validity.
func (p *IntParam) Set(v int) {
	p.value = v
	p.tracker.Set(p.check())
}

// SetLimits replaces the bounds and re-evaluates validity.
func (p *IntParam) SetLimits(min, max int) {
	p.applyLimits(min, max)
	p.tracker.Set(p.check())
}

func (p *IntParam) applyLimits(min, max int) {
	p.min = min
	if p.min < 0 {
		p.min = 0
	}
	if max >= 0 {
		p.max = max
		p.rangeValid = true
	} else {
		p.max = 0
		p.rangeValid = false
	}
}

func (p *IntParam) check() bool {
	return p.rangeValid && p.value >= p.min && p.value <= p.max
}

func (p *IntParam) clone() Param {
	cp := &IntParam{name: p.name, units: p.units, value: p.value, min: p.min, max: p.max, rangeValid: p.rangeValid}
	cp.tracker = validity.NewTracker(cp.check())
	return cp
}

// IntListParam is a non-empty list of integers sharing one set of bounds.
type IntListParam struct {
	name       string
	units      string
	values     []int
	min        int
	max        int
	rangeValid bool
	tracker    *validity.Tracker
}

// NewIntListParam constructs a list parameter holding the given initial values.
// An empty initial list is replaced by a single zero so the list is never empty.
func NewIntListParam(name, units string, values []int, min, max int) *IntListParam {
	if len(values) == 0 {
		values = []int{0}
	}
	p := &IntListParam{name: name, units: units, values: append([]int(nil), values...)}
	p.applyLimits(min, max)
	p.tracker = validity.NewTracker(p.check())
	return p
}

func (p *IntListParam) Name() string              { return p.name }
func (p *IntListParam) Kind() ParamKind           { return ParamIntList }
func (p *IntListParam) Units() string             { return p.units }
func (p *IntListParam) Valid() bool               { return p.tracker.Valid() }
func (p *IntListParam) Validity() validity.Source { return p.tracker }
func (p *IntListParam) Get() []int                { return append([]int(nil), p.values...) }
func (p *IntListParam) Len() int                  { return len(p.values) }
func (p *IntListParam) Limits() (int, int)        { return p.min, p.max }
func (p *IntListParam) Value() ParamValue         { return IntListValue(p.values...) }

func (p *IntListParam) String() string {
	parts := make([]string, len(p.values))
	for i, v := range p.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

// Set replaces every value. An empty list is rejected.
func (p *IntListParam) Set(values []int) error {
	if len(values) == 0 {
		return fmt.Errorf("%s: list must not be empty", p.name)
	}
	p.values = append(p.values[:0], values...)
	p.tracker.Set(p.check())
	return nil
}

// SetSingle collapses the list to one value.
func (p *IntListParam) SetSingle(v int) {
	p.values = append(p.values[:0], v)
	p.tracker.Set(p.check())
}

// Append adds a value to the end of the list.
func (p *IntListParam) Append(v int) {
	p.values = append(p.values, v)
	p.tracker.Set(p.check())
}

// Remove deletes the value at index. The last remaining value cannot be removed.
func (p *IntListParam) Remove(index int) error {
	if len(p.values) <= 1 {
		return fmt.Errorf("%s: cannot remove the only value", p.name)
	}
	if index < 0 || index >= len(p.values) {
		return fmt.Errorf("%s: index %d out of range", p.name, index)
	}
	p.values = append(p.values[:index], p.values[index+1:]...)
	p.tracker.Set(p.check())
	return nil
}

// SetLimits replaces the bounds for every element.
func (p *IntListParam) SetLimits(min, max int) {
	p.applyLimits(min, max)
	p.tracker.Set(p.check())
}

func (p *IntListParam) applyLimits(min, max int) {
	p.min = min
	if p.min < 0 {
		p.min = 0
	}
	if max >= 0 {
		p.max = max
		p.rangeValid = true
	} else {
		p.max = 0
		p.rangeValid = false
	}
}

func (p *IntListParam) check() bool {
	if !p.rangeValid || len(p.values) == 0 {
		return false
	}
	for _, v := range p.values {
		if v < p.min || v > p.max {
			return false
		}
	}
	return true
}

func (p *IntListParam) clone() Param {
	cp := &IntListParam{
		name: p.name, units: p.units, values: append([]int(nil), p.values...),
		min: p.min, max: p.max, rangeValid: p.rangeValid,
	}
	cp.tracker = validity.NewTracker(cp.check())
	return cp
}

// StringParam is a bounded-length string restricted to a character set.
type StringParam struct {
	name    string
	value   string
	maxLen  int
	charset string
	tracker *validity.Tracker
}

// NewStringParam constructs a string parameter. An empty charset allows any rune.
func NewStringParam(name, value string, maxLen int, charset string) *StringParam {
	p := &StringParam{name: name, value: value, maxLen: maxLen, charset: charset}
	p.tracker = validity.NewTracker(p.check())
	return p
}

func (p *StringParam) Name() string              { return p.name }
func (p *StringParam) Kind() ParamKind           { return ParamString }
func (p *StringParam) Valid() bool               { return p.tracker.Valid() }
func (p *StringParam) Validity() validity.Source { return p.tracker }
func (p *StringParam) Get() string               { return p.value }
func (p *StringParam) MaxLen() int               { return p.maxLen }
func (p *StringParam) Value() ParamValue         { return StringValue(p.value) }
func (p *StringParam) String() string            { return p.value }

// Set replaces the value and re-evaluates validity.
func (p *StringParam) Set(v string) {
	p.value = v
	p.tracker.Set(p.check())
}

func (p *StringParam) check() bool {
	if p.value == "" {
		return false
	}
	if p.maxLen > 0 && len([]rune(p.value)) > p.maxLen {
		return false
	}
	if p.charset == "" {
		return true
	}
	for _, r := range p.value {
		if !strings.ContainsRune(p.charset, r) {
			return false
		}
	}
	return true
}

func (p *StringParam) clone() Param {
	cp := &StringParam{name: p.name, value: p.value, maxLen: p.maxLen, charset: p.charset}
	cp.tracker = validity.NewTracker(cp.check())
	return cp
}

// ParamSpec declares a parameter a Band needs.
type ParamSpec struct {
	Name  string
	Label string
	Units string
	Kind  ParamKind

	DefaultInts []int
	DefaultStr  string
	Min         int
	Max         int
	// FollowsTuner bounds the parameter by the band's tuner range mapped
	// into requested frequencies instead of Min/Max.
	FollowsTuner bool

	MaxLen  int
	Charset string

	// Requires names parameters that must be supplied alongside this one
	// when values are applied from an external source.
	Requires []string
}

func (s ParamSpec) build(min, max int) Param {
	switch s.Kind {
	case ParamIntList:
		return NewIntListParam(s.Name, s.Units, s.DefaultInts, min, max)
	case ParamString:
		return NewStringParam(s.Name, s.DefaultStr, s.MaxLen, s.Charset)
	default:
		v := 0
		if len(s.DefaultInts) > 0 {
			v = s.DefaultInts[0]
		}
		return NewIntParam(s.Name, s.Units, v, min, max)
	}
}
