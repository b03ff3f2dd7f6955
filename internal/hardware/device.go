package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// USB identity of the FT2232H bridge used by supported tuners.
const (
	FTDIVendorID    uint16 = 0x0403
	FT2232ProductID uint16 = 0x6010
)

// Product strings programmed into supported tuner EEPROMs.
var (
	LongmyndProducts = []string{
		"USB <-> NIM tuner",
		"MiniTiouner-Express",
		"MiniTiouner",
		"MiniTiouner_Pro_TS1",
		"MiniTiouner_Pro_TS2",
	}
	CombiTunerProducts = []string{
		"CombiTuner-Express",
	}
)

// ErrNotFound is returned when no attached device matches.
var ErrNotFound = errors.New("no matching tuner found")

// Device is one USB device as reported by sysfs.
type Device struct {
	Name      string `json:"name"`
	Bus       int    `json:"bus"`
	Address   int    `json:"address"`
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
	Product   string `json:"product"`
	Serial    string `json:"serial,omitempty"`
}

// IsTunerBridge reports whether the device is an FT2232H.
func (d Device) IsTunerBridge() bool {
	return d.VendorID == FTDIVendorID && d.ProductID == FT2232ProductID
}

func (d Device) String() string {
	return fmt.Sprintf("%s (bus %d dev %d)", d.Product, d.Bus, d.Address)
}

// ScanUSB lists USB devices under root/bus/usb/devices. Interfaces and
// entries without vendor ids are skipped.
func ScanUSB(sysfsRoot string) ([]Device, error) {
	dir := filepath.Join(sysfsRoot, "bus", "usb", "devices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var devices []Device
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}
		devDir := filepath.Join(dir, name)
		vendor, ok := readHex(devDir, "idVendor")
		if !ok {
			continue
		}
		product, ok := readHex(devDir, "idProduct")
		if !ok {
			continue
		}
		bus, _ := readInt(devDir, "busnum")
		addr, _ := readInt(devDir, "devnum")
		devices = append(devices, Device{
			Name:      name,
			Bus:       bus,
			Address:   addr,
			VendorID:  vendor,
			ProductID: product,
			Product:   readString(devDir, "product"),
			Serial:    readString(devDir, "serial"),
		})
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Bus != devices[j].Bus {
			return devices[i].Bus < devices[j].Bus
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

func readString(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readHex(dir, name string) (uint16, bool) {
	raw := readString(dir, name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

func readInt(dir, name string) (int, bool) {
	raw := readString(dir, name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
