package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// USBDevice describes a fake sysfs USB device entry.
type USBDevice struct {
	Name      string
	Bus       int
	Address   int
	VendorID  string
	ProductID string
	Product   string
}

// WriteUSBDevice lays out the sysfs attribute files the hardware scanner reads
// below root.
func WriteUSBDevice(t testing.TB, root string, dev USBDevice) {
	t.Helper()

	dir := filepath.Join(root, "bus", "usb", "devices", dev.Name)
	WriteFile(t, filepath.Join(dir, "idVendor"), dev.VendorID+"\n")
	WriteFile(t, filepath.Join(dir, "idProduct"), dev.ProductID+"\n")
	WriteFile(t, filepath.Join(dir, "product"), dev.Product+"\n")
	WriteFile(t, filepath.Join(dir, "busnum"), strconv.Itoa(dev.Bus)+"\n")
	WriteFile(t, filepath.Join(dir, "devnum"), strconv.Itoa(dev.Address)+"\n")
}
