// Package volume brings the node's data volume from unattached to mounted.
// It runs before anything else in the boot sequence: key material, backups
// and node state all live on this volume.
package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/common"
)

const stageVolume = "volume"

// Manager drives the volume state machine. Terminal-success only: any step
// that exhausts its budget aborts the agent, so a node with no writable data
// volume never registers itself as discoverable.
type Manager struct {
	state

	device     Device
	deviceName string
	mountpoint string
	fstype     string

	attachRetries int
	attachDelay   time.Duration

	clock  clockwork.Clock
	logger *logrus.Entry
}

// NewManager ...
func NewManager(device Device, deviceName, mountpoint, fstype string, attachRetries int, attachDelay time.Duration, clock clockwork.Clock, logger *logrus.Entry) *Manager {
	return &Manager{
		device:        device,
		deviceName:    deviceName,
		mountpoint:    mountpoint,
		fstype:        fstype,
		attachRetries: attachRetries,
		attachDelay:   attachDelay,
		clock:         clock,
		logger:        logger,
	}
}

// State returns the current state machine position.
func (m *Manager) State() State {
	return m.getState()
}

// WaitAndMount walks the state machine to Mounted: poll until the device is
// visible, format it unless a filesystem is already there, mount it, and
// record the mount for reboot survival.
func (m *Manager) WaitAndMount(ctx context.Context) error {
	if err := m.waitAttached(ctx); err != nil {
		return err
	}

	if err := m.ensureFormatted(); err != nil {
		return err
	}

	if err := m.mount(); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"device":     m.deviceName,
		"mountpoint": m.mountpoint,
	}).Info("data volume mounted")

	return nil
}

func (m *Manager) waitAttached(ctx context.Context) error {
	for i := 0; i < m.attachRetries; i++ {
		ok, err := m.device.Exists(m.deviceName)
		if err != nil {
			return common.NewFault(common.ResourceUnavailable, stageVolume, err)
		}
		if ok {
			m.setState(Attached)
			return nil
		}

		m.logger.WithFields(logrus.Fields{
			"device":  m.deviceName,
			"attempt": i + 1,
			"retries": m.attachRetries,
		}).Debug("device not attached yet")

		select {
		case <-m.clock.After(m.attachDelay):
		case <-ctx.Done():
			return common.NewFault(common.ResourceUnavailable, stageVolume, ctx.Err())
		}
	}

	return common.NewFault(common.ResourceUnavailable, stageVolume,
		fmt.Errorf("device %s never attached after %d attempts", m.deviceName, m.attachRetries))
}

func (m *Manager) ensureFormatted() error {
	fs, err := m.device.Filesystem(m.deviceName)
	if err != nil {
		return common.NewFault(common.ResourceUnavailable, stageVolume, err)
	}

	switch fs {
	case "":
		m.logger.WithField("fstype", m.fstype).Info("formatting blank device")
		if err := m.device.Format(m.deviceName, m.fstype); err != nil {
			return common.NewFault(common.ResourceUnavailable, stageVolume, err)
		}
	case m.fstype:
		// Already formatted on a previous boot; formatting again would
		// destroy the node's state.
		m.logger.Debug("device already formatted")
	default:
		return common.NewFault(common.Configuration, stageVolume,
			fmt.Errorf("device %s has filesystem %s, expected %s", m.deviceName, fs, m.fstype))
	}

	m.setState(Formatted)
	return nil
}

func (m *Manager) mount() error {
	if err := m.device.Mount(m.deviceName, m.mountpoint, m.fstype); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageVolume, err)
	}

	if err := m.device.EnsureMountTable(m.deviceName, m.mountpoint, m.fstype); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageVolume, err)
	}

	m.setState(Mounted)
	return nil
}
