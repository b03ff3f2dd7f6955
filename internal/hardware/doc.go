// Package hardware identifies USB tuner modules.
//
// Tuners are FT2232H bridges whose EEPROM product string names the module.
// Scanner reads the kernel's USB device tree under sysfs and caches the
// result for a short time; Monitor listens for udev hotplug events and
// invalidates that cache when an FTDI device comes or goes.
package hardware
