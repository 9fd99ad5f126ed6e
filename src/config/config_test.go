package config

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()

	if c.LogLevel != DefaultLogLevel {
		t.Fatalf("unexpected log level: %s", c.LogLevel)
	}
	if c.NodeKind != DefaultNodeKind {
		t.Fatalf("unexpected node kind: %s", c.NodeKind)
	}
	if c.Quorum != DefaultQuorum {
		t.Fatalf("unexpected quorum: %d", c.Quorum)
	}
	if c.Mountpoint != DefaultMountpoint {
		t.Fatalf("unexpected mountpoint: %s", c.Mountpoint)
	}
	// The quorum wait is unbounded unless a timeout is opted into.
	if c.DiscoveryTimeout != 0 {
		t.Fatalf("discovery timeout should default to 0, got %s", c.DiscoveryTimeout)
	}
}

func TestDerivedPaths(t *testing.T) {
	c := NewDefaultConfig()
	c.SetDataDir("/tmp/rimed")
	c.Mountpoint = "/mnt/vol"

	if c.Keyfile() != filepath.Join("/tmp/rimed", DefaultKeyfile) {
		t.Fatalf("unexpected keyfile: %s", c.Keyfile())
	}
	if c.NodeConfigFile() != filepath.Join("/tmp/rimed", DefaultNodeConfigFile) {
		t.Fatalf("unexpected node config file: %s", c.NodeConfigFile())
	}
	if c.DBDir() != filepath.Join("/mnt/vol", DefaultDBFile) {
		t.Fatalf("unexpected db dir: %s", c.DBDir())
	}
	if c.JournalDir() != filepath.Join("/tmp/rimed", DefaultJournalFile) {
		t.Fatalf("unexpected journal dir: %s", c.JournalDir())
	}
}

func TestLogLevel(t *testing.T) {
	if LogLevel("info") != logrus.InfoLevel {
		t.Fatal("info not parsed")
	}
	if LogLevel("garbage") != logrus.DebugLevel {
		t.Fatal("unknown level should default to debug")
	}
}
