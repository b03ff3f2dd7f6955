package hardware

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"dvbrx/internal/logging"
)

// Monitor listens for udev netlink events about FTDI bridges and calls
// onChange for each one after invalidating the scanner cache.
type Monitor struct {
	scanner  *Scanner
	logger   *slog.Logger
	onChange func(action string, dev string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewMonitor creates a hotplug monitor. scanner may be nil.
func NewMonitor(scanner *Scanner, logger *slog.Logger, onChange func(action, dev string)) *Monitor {
	return &Monitor{
		scanner:  scanner,
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		onChange: onChange,
	}
}

// Start begins listening. A netlink connection failure is logged and
// tolerated; the scanner's TTL then bounds cache staleness.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; tuner hotplug will not be tracked",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "tuner identity refreshes only when the cache expires"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
	)
	return nil
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("hotplug monitor stopped",
		logging.String(logging.FieldEventType, "hotplug_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "tuner hotplug may be missed"),
			)
		}
	}
}

// buildMatcher matches USB device add and remove events.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVTYPE":   "usb_device",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	if !isTunerBridgeEvent(uevent.Env["PRODUCT"]) {
		m.logger.Debug("ignoring non-ftdi usb event",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	if m.scanner != nil {
		m.scanner.Invalidate()
	}

	dev := uevent.Env["DEVNAME"]
	if dev == "" {
		dev = uevent.KObj
	}
	m.logger.Info("tuner bridge hotplug",
		logging.String(logging.FieldEventType, "tuner_hotplug"),
		logging.String("action", string(uevent.Action)),
		logging.String("device", dev),
	)
	if m.onChange != nil {
		m.onChange(string(uevent.Action), dev)
	}
}

// isTunerBridgeEvent checks a uevent PRODUCT value ("403/6010/700").
func isTunerBridgeEvent(product string) bool {
	parts := strings.Split(product, "/")
	if len(parts) < 2 {
		return false
	}
	return strings.EqualFold(parts[0], "403") && strings.EqualFold(parts[1], "6010")
}
