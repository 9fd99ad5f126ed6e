package backup

import (
	"encoding/json"
	"fmt"
	"time"
)

// Suffixes of the two objects written per snapshot: the archive itself and
// the descriptor pointing at it.
const (
	archiveSuffix    = ".tar.zst"
	descriptorSuffix = ".json"
)

// timestampLayout is sortable, so the lexically greatest descriptor under a
// prefix is the most recent snapshot.
const timestampLayout = "20060102T150405Z"

// BackupDescriptor identifies one snapshot. Descriptors are append-only
// history: written once on upload, never mutated.
type BackupDescriptor struct {
	SourceNodeID string `json:"source_node_id"`
	ClusterID    string `json:"cluster_id"`
	CreatedAt    int64  `json:"created_at"`
	ObjectPath   string `json:"object_path"`
}

// ParseDescriptor ...
func ParseDescriptor(data []byte) (*BackupDescriptor, error) {
	var d BackupDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d.ObjectPath == "" {
		return nil, fmt.Errorf("backup descriptor has empty object_path")
	}
	return &d, nil
}

// Bytes ...
func (d *BackupDescriptor) Bytes() ([]byte, error) {
	return json.Marshal(d)
}

// backupPrefix returns the prefix holding all of one node's snapshots.
func backupPrefix(clusterID, nodeID string) string {
	return fmt.Sprintf("%s/backups/%s/", clusterID, nodeID)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
