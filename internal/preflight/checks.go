package preflight

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"dvbrx/internal/hardware"
	"dvbrx/internal/watchdog"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSysfs verifies the USB device tree is readable and reports the tuner
// bridges present.
func CheckSysfs(root string) Result {
	const name = "USB tuners"

	dir := filepath.Join(root, "bus", "usb", "devices")
	if err := unix.Access(dir, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	devices, err := hardware.ScanUSB(root)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	var tuners []string
	for _, dev := range devices {
		if dev.IsTunerBridge() {
			tuners = append(tuners, dev.String())
		}
	}
	if len(tuners) == 0 {
		return Result{Name: name, Passed: true, Detail: "No tuner connected"}
	}
	return Result{Name: name, Passed: true, Detail: strings.Join(tuners, ", ")}
}

// CheckBroker verifies that the MQTT broker accepts TCP connections.
func CheckBroker(ctx context.Context, broker string) Result {
	const name = "MQTT broker"

	u, err := url.Parse(strings.TrimSpace(broker))
	if err != nil || u.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid broker url %q", broker)}
	}
	host := u.Host
	if u.Port() == "" {
		port := "1883"
		if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "mqtts" {
			port = "8883"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckHeartbeat reports whether the daemon heartbeat file was touched within
// twice its interval.
func CheckHeartbeat(path string, interval time.Duration, now time.Time) Result {
	const name = "Heartbeat"

	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	age, err := watchdog.Age(path, now)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: "No heartbeat file"}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	if interval > 0 && age > 2*interval {
		return Result{Name: name, Detail: fmt.Sprintf("stale (%s old)", age.Round(time.Second))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s old", age.Round(time.Second))}
}
