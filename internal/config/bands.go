package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"dvbrx/internal/source"
)

// BandEntry is one named band in the library.
type BandEntry struct {
	Name               string `toml:"name" yaml:"name" json:"name"`
	Source             string `toml:"source" yaml:"source" json:"source"`
	LOFreq             int    `toml:"lo_freq" yaml:"lo_freq" json:"lo_freq"`
	LOSide             string `toml:"lo_side" yaml:"lo_side" json:"lo_side"`
	GPIO               int    `toml:"gpio" yaml:"gpio" json:"gpio"`
	Port               string `toml:"port,omitempty" yaml:"port,omitempty" json:"port,omitempty"`
	Polarity           string `toml:"polarity,omitempty" yaml:"polarity,omitempty" json:"polarity,omitempty"`
	Domain             string `toml:"domain,omitempty" yaml:"domain,omitempty" json:"domain,omitempty"`
	App                string `toml:"app,omitempty" yaml:"app,omitempty" json:"app,omitempty"`
	NetworkTimeout     int    `toml:"network_timeout,omitempty" yaml:"network_timeout,omitempty" json:"network_timeout,omitempty"`
	NetworkTimeoutInit int    `toml:"network_timeout_init,omitempty" yaml:"network_timeout_init,omitempty" json:"network_timeout_init,omitempty"`
}

// Band converts the entry into a source band.
func (e BandEntry) Band() (source.Band, error) {
	kind := source.ParseKind(e.Source)
	switch kind {
	case source.KindLongmynd, source.KindCombiTuner, source.KindNetStream:
	default:
		return source.Band{}, fmt.Errorf("band %q: unknown source %q", e.Name, e.Source)
	}
	var err error
	band := source.Band{Kind: kind, LOFreq: e.LOFreq, GPIOID: e.GPIO, Domain: e.Domain, App: e.App}
	if e.LOSide != "" {
		if band.LOSide, err = source.ParseLOSide(e.LOSide); err != nil {
			return source.Band{}, fmt.Errorf("band %q: %w", e.Name, err)
		}
	}
	if e.Port != "" {
		if band.Port, err = source.ParsePort(e.Port); err != nil {
			return source.Band{}, fmt.Errorf("band %q: %w", e.Name, err)
		}
	}
	if e.Polarity != "" {
		if band.Polarity, err = source.ParsePolarity(e.Polarity); err != nil {
			return source.Band{}, fmt.Errorf("band %q: %w", e.Name, err)
		}
	}
	if kind == source.KindNetStream {
		if e.Domain == "" {
			return source.Band{}, fmt.Errorf("band %q: domain is required for a network stream", e.Name)
		}
		band.Timeout = secondsOr(e.NetworkTimeout, 5)
		band.InitTimeout = secondsOr(e.NetworkTimeoutInit, 25)
	}
	return band, nil
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// Tune selects a band by name plus parameter values. Integer parameters
// accept a number or a list of numbers.
type Tune struct {
	Band   string         `toml:"band" yaml:"band" json:"band"`
	Values map[string]any `toml:"values" yaml:"values" json:"values"`
}

// Preset is a named tune.
type Preset struct {
	Name   string         `toml:"name" yaml:"name" json:"name"`
	Band   string         `toml:"band" yaml:"band" json:"band"`
	Values map[string]any `toml:"values" yaml:"values" json:"values"`
}

// Tune returns the preset's tune.
func (p Preset) Tune() Tune { return Tune{Band: p.Band, Values: p.Values} }

// NamedBand pairs a library name with its band.
type NamedBand struct {
	Name string
	Band source.Band
}

// Library returns the band library in file order. Entries that describe the
// same band as an earlier entry are dropped.
func (c *Config) Library() ([]NamedBand, error) {
	out := make([]NamedBand, 0, len(c.Bands))
	seen := make(map[source.Band]struct{}, len(c.Bands))
	for _, entry := range c.Bands {
		band, err := entry.Band()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[band]; dup {
			continue
		}
		seen[band] = struct{}{}
		out = append(out, NamedBand{Name: entry.Name, Band: band})
	}
	return out, nil
}

// LookupBand finds a library band by name, ignoring case.
func (c *Config) LookupBand(name string) (source.Band, error) {
	for _, entry := range c.Bands {
		if strings.EqualFold(entry.Name, name) {
			return entry.Band()
		}
	}
	return source.Band{}, fmt.Errorf("unknown band %q", name)
}

// LookupPreset finds a preset by name, ignoring case.
func (c *Config) LookupPreset(name string) (Preset, bool) {
	for _, p := range c.Presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}

// ResolveTune turns a tune into a band and typed parameter values.
func (c *Config) ResolveTune(t Tune) (source.Band, map[string]source.ParamValue, error) {
	band, err := c.LookupBand(t.Band)
	if err != nil {
		return source.Band{}, nil, err
	}
	values, err := ParamValues(t.Values)
	if err != nil {
		return source.Band{}, nil, err
	}
	return band, values, nil
}

// ParamValues converts decoded TOML, YAML or JSON values into parameter values.
func ParamValues(raw map[string]any) (map[string]source.ParamValue, error) {
	out := make(map[string]source.ParamValue, len(raw))
	for name, v := range raw {
		pv, err := paramValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", name, err)
		}
		out[name] = pv
	}
	return out, nil
}

func paramValue(v any) (source.ParamValue, error) {
	switch t := v.(type) {
	case string:
		return source.StringValue(t), nil
	case []any:
		ints := make([]int, 0, len(t))
		for _, item := range t {
			n, err := toInt(item)
			if err != nil {
				return source.ParamValue{}, err
			}
			ints = append(ints, n)
		}
		return source.IntListValue(ints...), nil
	case []int:
		return source.IntListValue(t...), nil
	default:
		n, err := toInt(v)
		if err != nil {
			return source.ParamValue{}, err
		}
		return source.IntValue(n), nil
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

type bandFile struct {
	Bands []BandEntry `toml:"bands" yaml:"bands"`
}

// ImportBands reads a band library file. Files ending in .yaml or .yml are
// parsed as YAML, anything else as TOML. Every entry is checked.
func ImportBands(path string) ([]BandEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read band library: %w", err)
	}
	var file bandFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = toml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse band library: %w", err)
	}
	if len(file.Bands) == 0 {
		return nil, errors.New("band library is empty")
	}
	for _, entry := range file.Bands {
		if strings.TrimSpace(entry.Name) == "" {
			return nil, errors.New("band library entry without a name")
		}
		if _, err := entry.Band(); err != nil {
			return nil, err
		}
	}
	return file.Bands, nil
}

// MergeBands appends imported entries, replacing entries with the same name.
func (c *Config) MergeBands(entries []BandEntry) {
	for _, entry := range entries {
		replaced := false
		for i := range c.Bands {
			if strings.EqualFold(c.Bands[i].Name, entry.Name) {
				c.Bands[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			c.Bands = append(c.Bands, entry)
		}
	}
}

// EncodeBands renders entries as a TOML band library.
func EncodeBands(entries []BandEntry) ([]byte, error) {
	return toml.Marshal(bandFile{Bands: entries})
}
