package hardware

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultSysfsRoot is where the kernel exposes device attributes.
const DefaultSysfsRoot = "/sys"

// Finder locates an attached tuner by product string.
type Finder interface {
	Find(products ...string) (Device, error)
}

// Scanner finds tuners in sysfs, caching the device list for TTL.
// It is safe for concurrent use.
type Scanner struct {
	root string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	devices []Device
	scanned time.Time
	valid   bool
}

// NewScanner builds a scanner over sysfsRoot. A zero TTL disables caching.
func NewScanner(sysfsRoot string, ttl time.Duration) *Scanner {
	if sysfsRoot == "" {
		sysfsRoot = DefaultSysfsRoot
	}
	return &Scanner{root: sysfsRoot, ttl: ttl, now: time.Now}
}

// Devices returns every attached FT2232H bridge.
func (s *Scanner) Devices() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.ttl > 0 && s.now().Sub(s.scanned) < s.ttl {
		return slices.Clone(s.devices), nil
	}
	all, err := ScanUSB(s.root)
	if err != nil {
		s.valid = false
		return nil, err
	}
	bridges := all[:0]
	for _, d := range all {
		if d.IsTunerBridge() {
			bridges = append(bridges, d)
		}
	}
	s.devices = bridges
	s.scanned = s.now()
	s.valid = true
	return slices.Clone(bridges), nil
}

// Find returns the first bridge whose product string is one of products.
func (s *Scanner) Find(products ...string) (Device, error) {
	devices, err := s.Devices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if slices.Contains(products, d.Product) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w among %d ftdi devices", ErrNotFound, len(devices))
}

// Invalidate drops the cached device list.
func (s *Scanner) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}
