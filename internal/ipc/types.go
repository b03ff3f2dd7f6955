package ipc

import (
	"time"

	"dvbrx/internal/config"
	"dvbrx/internal/journal"
	"dvbrx/internal/source"
)

// StartRequest starts the receiver.
type StartRequest struct{}

// StartResponse indicates whether the receiver was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the receiver.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is one labelled health line for status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missing_required"`
	MissingOptional int    `json:"missing_optional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// Band is the wire form of a tuning band.
type Band struct {
	Name        string `json:"name,omitempty"`
	Source      string `json:"source"`
	LOFreq      int    `json:"lo_freq"`
	LOSide      string `json:"lo_side"`
	GPIO        int    `json:"gpio"`
	Port        string `json:"port,omitempty"`
	Polarity    string `json:"polarity,omitempty"`
	Domain      string `json:"domain,omitempty"`
	App         string `json:"app,omitempty"`
	Timeout     int    `json:"network_timeout,omitempty"`
	InitTimeout int    `json:"network_timeout_init,omitempty"`
}

// Preset is a named tune from the config.
type Preset = config.Preset

// CoreState is the four-field receiver summary.
type CoreState struct {
	Started bool   `json:"started"`
	Running bool   `json:"running"`
	Locked  bool   `json:"locked"`
	Counter uint64 `json:"counter"`
}

// Reading is a valid meter value.
type Reading struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Signal is the wire form of the status snapshot. Absent readings are nil.
type Signal struct {
	Standard   string             `json:"standard,omitempty"`
	Modulation string             `json:"modulation,omitempty"`
	FreqKHz    int                `json:"freq_khz,omitempty"`
	SymbolRate *Reading           `json:"symbol_rate,omitempty"`
	Bandwidth  *Reading           `json:"bandwidth,omitempty"`
	Quality    *Reading           `json:"quality,omitempty"`
	Level      *Reading           `json:"level,omitempty"`
	Margin     *float64           `json:"margin,omitempty"`
	Provider   string             `json:"provider,omitempty"`
	Service    string             `json:"service,omitempty"`
	Streams    map[string]string  `json:"streams,omitempty"`
	Readings   map[string]Reading `json:"readings,omitempty"`
}

// Receiver describes the active source as seen by the player loop.
type Receiver struct {
	Source          string                       `json:"source"`
	Band            Band                         `json:"band"`
	Values          map[string]source.ParamValue `json:"values,omitempty"`
	Valid           bool                         `json:"valid"`
	State           CoreState                    `json:"state"`
	Signal          Signal                       `json:"signal"`
	Media           string                       `json:"media"`
	Container       string                       `json:"container,omitempty"`
	Playing         bool                         `json:"playing"`
	Autoplay        bool                         `json:"autoplay"`
	WatchdogPending bool                         `json:"watchdog_pending"`
	WatchdogDelayMS int64                        `json:"watchdog_delay_ms"`
}

// StatusResponse represents combined daemon and receiver status.
type StatusResponse struct {
	Running           bool               `json:"running"`
	PID               int                `json:"pid"`
	LockPath          string             `json:"lock_path"`
	LogPath           string             `json:"log_path"`
	RunID             string             `json:"run_id,omitempty"`
	Hotplug           bool               `json:"hotplug"`
	Receiver          *Receiver          `json:"receiver,omitempty"`
	EventCounts       map[string]int     `json:"event_counts,omitempty"`
	Dependencies      []DependencyStatus `json:"dependencies"`
	SystemChecks      []StatusLine       `json:"system_checks,omitempty"`
	DependencySummary DependencySummary  `json:"dependency_summary"`
}

// BandsRequest lists the band library.
type BandsRequest struct{}

// BandsResponse carries the band library and presets.
type BandsResponse struct {
	Bands   []Band   `json:"bands"`
	Presets []Preset `json:"presets"`
}

// TuneRequest selects a library band, a preset, or an inline band. Values
// are parameter values keyed by parameter name: integers, integer lists or
// strings.
type TuneRequest struct {
	Band   string            `json:"band,omitempty"`
	Preset string            `json:"preset,omitempty"`
	Inline *config.BandEntry `json:"inline,omitempty"`
	Values map[string]any    `json:"values,omitempty"`
}

// TuneResponse carries the receiver after the tune was applied.
type TuneResponse struct {
	Receiver Receiver `json:"receiver"`
}

// RestartRequest restarts the active source.
type RestartRequest struct{}

// RestartResponse carries the receiver after the restart.
type RestartResponse struct {
	Receiver Receiver `json:"receiver"`
}

// Event is one run journal entry.
type Event = journal.Event

// EventsRequest reads journal entries after an id.
type EventsRequest struct {
	After int64    `json:"after"`
	Kinds []string `json:"kinds,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// EventsResponse contains journal entries in id order.
type EventsResponse struct {
	RunID  string  `json:"run_id"`
	Events []Event `json:"events"`
	// Next is the id to pass as After to continue reading.
	Next int64 `json:"next"`
}

// LogTailRequest fetches daemon log lines.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	SourceKind string `json:"source_kind,omitempty"`
}

// LogTailResponse contains log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
