// Package backup snapshots the node's data directory to the object store
// and hydrates a fresh node from a prior snapshot. Restores are all or
// nothing: a partially-initialized data directory is worse than an empty
// one, so extraction goes through a staging directory that is atomically
// renamed into place.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/storage"
)

const stageBackup = "backup"

// Manager owns snapshot and restore for one node.
type Manager struct {
	store     storage.Store
	journal   *Journal
	clusterID string
	nodeID    string

	// dataDir is the directory being snapshotted and restored. It must be a
	// subdirectory of the mounted volume so staging renames stay on one
	// filesystem.
	dataDir string

	// restorePrefix, when non-empty, points at another node's backup
	// history to hydrate from on first boot.
	restorePrefix string

	clock  clockwork.Clock
	logger *logrus.Entry
}

// NewManager ...
func NewManager(store storage.Store, journal *Journal, clusterID, nodeID, dataDir, restorePrefix string, clock clockwork.Clock, logger *logrus.Entry) *Manager {
	return &Manager{
		store:         store,
		journal:       journal,
		clusterID:     clusterID,
		nodeID:        nodeID,
		dataDir:       dataDir,
		restorePrefix: restorePrefix,
		clock:         clock,
		logger:        logger,
	}
}

// RestoreIfConfigured hydrates the data directory from the latest snapshot
// under the configured restore prefix. It is a no-op when no prefix is
// configured or when the data directory already has content. Any failure is
// fatal and leaves the data directory absent rather than half-written.
func (m *Manager) RestoreIfConfigured(ctx context.Context) error {
	if m.restorePrefix == "" {
		return nil
	}

	empty, err := dirEmpty(m.dataDir)
	if err != nil {
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}
	if !empty {
		m.logger.Info("data directory not empty, skipping restore")
		return nil
	}

	desc, err := m.latestDescriptor(ctx, m.restorePrefix)
	if err != nil {
		return err
	}

	archive, err := m.store.Get(ctx, desc.ObjectPath)
	if err != nil {
		return common.NewFault(common.ResourceUnavailable, stageBackup,
			fmt.Errorf("cannot download snapshot %s: %v", desc.ObjectPath, err))
	}

	staging := m.dataDir + ".restore"
	if err := os.RemoveAll(staging); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}
	if err := os.MkdirAll(staging, 0700); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}

	if err := ExtractArchive(bytes.NewReader(archive), staging); err != nil {
		os.RemoveAll(staging)
		return common.NewFault(common.Corruption, stageBackup,
			fmt.Errorf("cannot unpack snapshot %s: %v", desc.ObjectPath, err))
	}

	// The data directory is empty or absent at this point; swap the staged
	// tree into place in one rename.
	if err := os.RemoveAll(m.dataDir); err != nil {
		os.RemoveAll(staging)
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}
	if err := os.Rename(staging, m.dataDir); err != nil {
		os.RemoveAll(staging)
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}

	m.logger.WithFields(logrus.Fields{
		"source_node": desc.SourceNodeID,
		"object":      desc.ObjectPath,
	}).Info("restored data directory from snapshot")

	return nil
}

// Snapshot archives the data directory and uploads it with a descriptor.
// Failures are returned but not fatal; the next scheduled snapshot retries.
func (m *Manager) Snapshot(ctx context.Context) error {
	timestamp := formatTimestamp(m.clock.Now())
	prefix := backupPrefix(m.clusterID, m.nodeID)

	var buf bytes.Buffer
	if err := CreateArchive(m.dataDir, &buf); err != nil {
		return fmt.Errorf("cannot archive %s: %v", m.dataDir, err)
	}

	archivePath := prefix + timestamp + archiveSuffix
	if err := m.store.Put(ctx, archivePath, buf.Bytes()); err != nil {
		return fmt.Errorf("cannot upload snapshot: %v", err)
	}

	desc := &BackupDescriptor{
		SourceNodeID: m.nodeID,
		ClusterID:    m.clusterID,
		CreatedAt:    m.clock.Now().Unix(),
		ObjectPath:   archivePath,
	}
	data, err := desc.Bytes()
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, prefix+timestamp+descriptorSuffix, data); err != nil {
		return fmt.Errorf("cannot upload snapshot descriptor: %v", err)
	}

	if m.journal != nil {
		if err := m.journal.Record(timestamp, desc); err != nil {
			m.logger.WithField("error", err).Warn("cannot journal snapshot")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"object": archivePath,
		"size":   buf.Len(),
	}).Info("snapshot uploaded")

	return nil
}

// RunSnapshotter uploads a snapshot on a fixed interval until ctx is
// cancelled. Snapshots are best-effort: an upload failure is logged and the
// next tick tries again.
func (m *Manager) RunSnapshotter(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-m.clock.After(interval):
			if err := m.Snapshot(ctx); err != nil {
				m.logger.WithField("error", err).Warn("scheduled snapshot failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// latestDescriptor finds the most recent descriptor under prefix. The
// timestamp layout sorts lexically, so the greatest descriptor key wins.
func (m *Manager) latestDescriptor(ctx context.Context, prefix string) (*BackupDescriptor, error) {
	paths, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}

	var descriptors []string
	for _, p := range paths {
		if strings.HasSuffix(p, descriptorSuffix) {
			descriptors = append(descriptors, p)
		}
	}
	if len(descriptors) == 0 {
		return nil, common.NewFault(common.ResourceUnavailable, stageBackup,
			fmt.Errorf("no snapshot descriptors under %s", prefix))
	}
	sort.Strings(descriptors)
	latest := descriptors[len(descriptors)-1]

	data, err := m.store.Get(ctx, latest)
	if err != nil {
		return nil, common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}

	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, common.NewFault(common.Corruption, stageBackup,
			fmt.Errorf("malformed descriptor %s: %v", latest, err))
	}

	return desc, nil
}

// dirEmpty reports whether dir has no content. A missing directory counts
// as empty, and so does one holding only lost+found, which mkfs leaves
// behind on a fresh ext4 volume.
func dirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e.Name() != "lost+found" {
			return false, nil
		}
	}
	return true, nil
}

// EnsureDataDir creates the data directory if it does not exist yet. Called
// after restore, before the node process starts.
func (m *Manager) EnsureDataDir() error {
	if err := os.MkdirAll(m.dataDir, 0700); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageBackup, err)
	}
	return nil
}
