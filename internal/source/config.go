package source

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"dvbrx/internal/validity"
)

// Parameter names shared across backends.
const (
	ParamFreq       = "freq"
	ParamSymbolRate = "sr"
	ParamBandwidth  = "bw"
	ParamStream     = "stream"
)

// Profile is what a backend declares for a Band: the tuner frequency range
// and the parameters a Config must carry.
type Profile struct {
	TunerMin int
	TunerMax int
	Params   []ParamSpec
}

// Spec returns the declaration for a named parameter.
func (p Profile) Spec(name string) (ParamSpec, bool) {
	for _, spec := range p.Params {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

// Config is a Band plus the tunable parameters it declares.
//
// A Config is owned by a single goroutine. Use Clone to hand a copy to another.
type Config struct {
	band    Band
	profile Profile
	params  map[string]Param
	order   []string
	group   *validity.Group
}

// NewConfig builds a Config with default parameter values for the band.
func NewConfig(band Band, profile Profile) *Config {
	c := &Config{
		params: make(map[string]Param),
		group:  validity.NewGroup(),
	}
	c.SetBand(band, profile)
	return c
}

// Band returns the active band.
func (c *Config) Band() Band { return c.band }

// Kind returns the band's source kind.
func (c *Config) Kind() Kind { return c.band.Kind }

// Profile returns the parameter declaration the config is synced to.
func (c *Config) Profile() Profile { return c.profile }

// SetBand replaces the band and syncs the parameter set to the new profile.
func (c *Config) SetBand(band Band, profile Profile) {
	c.band = band
	c.profile = profile
	c.SyncParams()
}

// SyncParams reconciles the parameter set with the profile. Parameters whose
// kind still matches are kept with their value and get fresh bounds; others
// are replaced by defaults, migrating the value between single and list
// forms where possible. Undeclared parameters are released.
func (c *Config) SyncParams() {
	reqMin, reqMax := c.band.RequestRange(c.profile.TunerMin, c.profile.TunerMax)

	declared := make(map[string]struct{}, len(c.profile.Params))
	order := make([]string, 0, len(c.profile.Params))
	for _, spec := range c.profile.Params {
		declared[spec.Name] = struct{}{}
		order = append(order, spec.Name)

		min, max := spec.Min, spec.Max
		if spec.FollowsTuner {
			min, max = reqMin, reqMax
		}

		old, ok := c.params[spec.Name]
		if ok && old.Kind() == spec.Kind {
			setLimits(old, min, max)
			continue
		}

		fresh := spec.build(min, max)
		if ok {
			migrate(old, fresh)
			c.group.Remove(old.Validity())
		}
		c.params[spec.Name] = fresh
		c.group.Add(fresh.Validity())
	}

	for name, p := range c.params {
		if _, ok := declared[name]; ok {
			continue
		}
		c.group.Remove(p.Validity())
		delete(c.params, name)
	}
	c.order = order
}

func setLimits(p Param, min, max int) {
	switch v := p.(type) {
	case *IntParam:
		v.SetLimits(min, max)
	case *IntListParam:
		v.SetLimits(min, max)
	}
}

func migrate(from, to Param) {
	switch dst := to.(type) {
	case *IntParam:
		if src, ok := from.(*IntListParam); ok {
			dst.Set(src.values[0])
		}
	case *IntListParam:
		if src, ok := from.(*IntParam); ok {
			dst.SetSingle(src.value)
		}
	}
}

// Names lists parameter names in declaration order.
func (c *Config) Names() []string { return slices.Clone(c.order) }

// Param returns a named parameter.
func (c *Config) Param(name string) (Param, bool) {
	p, ok := c.params[name]
	return p, ok
}

// Int returns a single-integer parameter, or the first element of a list parameter.
func (c *Config) Int(name string) (int, bool) {
	switch p := c.params[name].(type) {
	case *IntParam:
		return p.Get(), true
	case *IntListParam:
		return p.values[0], true
	}
	return 0, false
}

// Ints returns an integer parameter as a list.
func (c *Config) Ints(name string) []int {
	switch p := c.params[name].(type) {
	case *IntParam:
		return []int{p.Get()}
	case *IntListParam:
		return p.Get()
	}
	return nil
}

// Str returns a string parameter.
func (c *Config) Str(name string) string {
	if p, ok := c.params[name].(*StringParam); ok {
		return p.Get()
	}
	return ""
}

// Set assigns a value to a named parameter. Single and list integer forms
// convert into each other.
func (c *Config) Set(name string, value ParamValue) error {
	p, ok := c.params[name]
	if !ok {
		return fmt.Errorf("%s: parameter not used by %s bands", name, c.band.Kind)
	}
	switch dst := p.(type) {
	case *IntParam:
		if value.Kind == ParamString || len(value.Ints) == 0 {
			return fmt.Errorf("%s: expected an integer", name)
		}
		dst.Set(value.Ints[0])
	case *IntListParam:
		if value.Kind == ParamString {
			return fmt.Errorf("%s: expected integers", name)
		}
		return dst.Set(value.Ints)
	case *StringParam:
		if value.Kind != ParamString {
			return fmt.Errorf("%s: expected a string", name)
		}
		dst.Set(value.Str)
	}
	return nil
}

// Apply assigns a set of values. A value whose declared prerequisites are
// missing from the same set is skipped. Errors for individual values are
// joined; the remaining values are still applied.
func (c *Config) Apply(values map[string]ParamValue) error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if spec, ok := c.profile.Spec(name); ok {
			missing := false
			for _, req := range spec.Requires {
				if _, present := values[req]; !present {
					missing = true
					break
				}
			}
			if missing {
				continue
			}
		}
		if err := c.Set(name, values[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Values returns every parameter value keyed by name.
func (c *Config) Values() map[string]ParamValue {
	out := make(map[string]ParamValue, len(c.params))
	for name, p := range c.params {
		out[name] = p.Value()
	}
	return out
}

// Valid reports whether every parameter is within bounds.
func (c *Config) Valid() bool { return c.group.Valid() }

// Validity exposes the aggregate validity for subscription.
func (c *Config) Validity() validity.Source { return c.group }

// Clone returns an independent deep copy with its own validity tree.
func (c *Config) Clone() *Config {
	cp := &Config{
		band:    c.band,
		profile: c.profile,
		params:  make(map[string]Param, len(c.params)),
		order:   slices.Clone(c.order),
		group:   validity.NewGroup(),
	}
	for _, name := range c.order {
		p := c.params[name].clone()
		cp.params[name] = p
		cp.group.Add(p.Validity())
	}
	return cp
}

// Equal reports whether two configs share a band and parameter values.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.band != other.band || len(c.params) != len(other.params) {
		return false
	}
	for name, p := range c.params {
		o, ok := other.params[name]
		if !ok || !p.Value().Equal(o.Value()) {
			return false
		}
	}
	return true
}

// Release detaches the config's validity tree. The config must not be used afterwards.
func (c *Config) Release() {
	c.group.Clear()
	c.params = map[string]Param{}
	c.order = nil
}
