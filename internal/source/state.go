package source

import "fmt"

// CoreState is the summary callers poll each loop tick.
type CoreState struct {
	// Started is true while a child process or connection exists.
	Started bool `json:"started"`
	// Running is true once the startup sequence has been fully observed.
	Running bool `json:"running"`
	// Locked is true while the backend reports synchronization.
	Locked bool `json:"locked"`
	// Counter increments whenever the meaning of Locked changes.
	Counter uint64 `json:"counter"`
}

func (s CoreState) String() string {
	return fmt.Sprintf("started=%t running=%t locked=%t counter=%d", s.Started, s.Running, s.Locked, s.Counter)
}
