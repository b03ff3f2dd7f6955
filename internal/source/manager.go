package source

import "log/slog"

// Media is the handle a playback collaborator reads the transport stream from.
type Media struct {
	Path      string `json:"path"`
	Container string `json:"container"`
	// FD is a read handle held open on Path, or -1.
	FD int `json:"-"`
}

// Manager drives one backend. A Manager is owned by a single goroutine; its
// descriptors are only read by that goroutine.
//
// Runtime faults never surface as errors: a Manager logs them and its
// CoreState drops to not running.
type Manager interface {
	Kind() Kind
	// Start launches the backend. It is a no-op when already started or
	// when the active config is invalid or the hardware is absent.
	Start()
	// Stop ends the backend, draining buffered output and reopening clean
	// handles for the next Start. With waitFirst the backend gets a grace
	// period to exit on its own before it is killed.
	Stop(dump, waitFirst bool)
	Restart()
	// Reconfig replaces the active config, restarting only when it differs.
	Reconfig(cfg *Config)
	CoreState() CoreState
	Status() *Status
	Media() Media
	// FDs lists descriptors to wait on for readability.
	FDs() []int
	// HandleFD processes pending data on exactly one descriptor.
	HandleFD(fd int)
	// Close stops the backend and releases every descriptor.
	Close() error
}

// Provider bundles the constructors for one source kind.
type Provider interface {
	Kind() Kind
	DefaultBand() Band
	// Profile declares the parameters and tuner range a band needs.
	Profile(band Band) Profile
	NewManager(cfg *Config, logger *slog.Logger) (Manager, error)
}
