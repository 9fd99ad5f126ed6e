package volume

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Device is the host capability to inspect, format and mount a block device.
// The agent drives this interface; the host environment provides the real
// implementation.
type Device interface {
	// Exists reports whether the named device is visible.
	Exists(device string) (bool, error)
	// Filesystem returns the filesystem type on the device, or "" if the
	// device is blank.
	Filesystem(device string) (string, error)
	// Format creates a filesystem of the given type on the device.
	Format(device, fstype string) error
	// Mount mounts the device at the mountpoint.
	Mount(device, mountpoint, fstype string) error
	// EnsureMountTable records the mount in the persistent mount table so
	// the volume comes back after a reboot.
	EnsureMountTable(device, mountpoint, fstype string) error
}

const fstabPath = "/etc/fstab"

// ExecDevice implements Device with the host's block-device tooling.
type ExecDevice struct {
	// MountTable overrides the fstab location, for tests.
	MountTable string
}

// NewExecDevice ...
func NewExecDevice() *ExecDevice {
	return &ExecDevice{
		MountTable: fstabPath,
	}
}

// Exists implements Device.
func (d *ExecDevice) Exists(device string) (bool, error) {
	_, err := os.Stat(device)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Filesystem implements Device. blkid exits 2 for a blank device, which is
// reported as "" rather than an error.
func (d *ExecDevice) Filesystem(device string) (string, error) {
	out, err := exec.Command("blkid", "-o", "value", "-s", "TYPE", device).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 2 {
			return "", nil
		}
		return "", fmt.Errorf("blkid %s: %v", device, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Format implements Device.
func (d *ExecDevice) Format(device, fstype string) error {
	out, err := exec.Command("mkfs."+fstype, device).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.%s %s: %v: %s", fstype, device, err, out)
	}
	return nil
}

// Mount implements Device.
func (d *ExecDevice) Mount(device, mountpoint, fstype string) error {
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return err
	}
	out, err := exec.Command("mount", "-t", fstype, device, mountpoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount %s %s: %v: %s", device, mountpoint, err, out)
	}
	return nil
}

// EnsureMountTable implements Device. Appending twice would shadow the first
// entry, so an existing line for the device is left alone.
func (d *ExecDevice) EnsureMountTable(device, mountpoint, fstype string) error {
	existing, err := os.ReadFile(d.MountTable)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, line := range strings.Split(string(existing), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), device+" ") {
			return nil
		}
	}

	f, err := os.OpenFile(d.MountTable, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := fmt.Sprintf("%s %s %s defaults,nofail 0 2\n", device, mountpoint, fstype)
	_, err = f.WriteString(entry)
	return err
}
