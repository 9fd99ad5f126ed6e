package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	lfshook "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/rimechain/rime/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "node.key"

	// DefaultKeyInfoFile is the default name of the file containing the
	// node's derived addresses
	DefaultKeyInfoFile = "key_info.yaml"

	// DefaultNodeConfigFile is the default name of the rendered node
	// configuration file
	DefaultNodeConfigFile = "node_config.json"

	// DefaultLogFile is the default name of the agent log file
	DefaultLogFile = "rimed.log"

	// DefaultDBFile is the default name of the folder, under the mounted
	// volume, containing the node's database
	DefaultDBFile = "db"

	// DefaultJournalFile is the default name of the folder containing the
	// local snapshot journal
	DefaultJournalFile = "journal"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultNodeKind          = "non-anchor"
	DefaultNetworkID         = uint32(1)
	DefaultHTTPHost          = "127.0.0.1:9650"
	DefaultDevice            = "/dev/nvme1n1"
	DefaultMountpoint        = "/data"
	DefaultFstype            = "ext4"
	DefaultAttachRetries     = 60
	DefaultAttachDelay       = 5 * time.Second
	DefaultQuorum            = 3
	DefaultExpectedAnchors   = 0
	DefaultPollInterval      = 10 * time.Second
	DefaultDiscoveryTimeout  = 0 * time.Second
	DefaultRepublishInterval = 5 * time.Minute
	DefaultSnapshotInterval  = 6 * time.Hour
	DefaultRestartCeiling    = 5
	DefaultRestartBackoff    = 2 * time.Second
	DefaultBackoffCeiling    = 2 * time.Minute
	DefaultHealthInterval    = 15 * time.Second
)

// Config contains all the configuration properties of a rimed agent.
type Config struct {
	// DataDir is the top-level directory containing the agent's
	// configuration and artifacts: the node key, derived addresses, and the
	// rendered node configuration.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// ClusterID names the fleet this machine belongs to. It is the top-level
	// prefix of every object the agent reads or writes in the shared store.
	ClusterID string `mapstructure:"cluster"`

	// Bucket is the object-store bucket shared by the fleet.
	Bucket string `mapstructure:"bucket"`

	// NodeKind is the role of this machine: "anchor" or "non-anchor".
	NodeKind string `mapstructure:"node-kind"`

	// NetworkID selects the blockchain network. It determines the
	// human-readable part of the node's derived addresses.
	NetworkID uint32 `mapstructure:"network-id"`

	// AdvertiseAddr is the address other nodes use to reach this one. When
	// empty, the agent falls back to the machine's private IP from instance
	// metadata.
	AdvertiseAddr string `mapstructure:"advertise"`

	// MachineID is the stable machine identifier used to key this node's
	// sealed key envelope. When empty, the agent reads the instance id from
	// instance metadata.
	MachineID string `mapstructure:"machine-id"`

	// KMSKeyID is the id of the KMS key that seals node private keys. When
	// empty, SealPassphrase must be set and a local sealer is used instead.
	KMSKeyID string `mapstructure:"kms-key"`

	// SealPassphrase is the passphrase of the local sealer. Only read when
	// KMSKeyID is empty. Intended for tests and single-machine deployments.
	SealPassphrase string `mapstructure:"seal-passphrase"`

	// Device is the block device of the node's data volume.
	Device string `mapstructure:"device"`

	// Mountpoint is where the data volume is mounted.
	Mountpoint string `mapstructure:"mountpoint"`

	// Fstype is the filesystem created on a blank data volume.
	Fstype string `mapstructure:"fstype"`

	// AttachRetries bounds how long the agent waits for the data volume to
	// appear, in units of AttachDelay.
	AttachRetries int `mapstructure:"attach-retries"`

	// AttachDelay is the pause between volume attachment checks.
	AttachDelay time.Duration `mapstructure:"attach-delay"`

	// Quorum is the number of ready anchors a non-anchor waits for before
	// joining. Ignored on anchors.
	Quorum int `mapstructure:"quorum"`

	// ExpectedAnchors is the total number of anchors the fleet was launched
	// with. When set below Quorum the agent logs a warning, since the wait
	// can never succeed. Zero means unknown.
	ExpectedAnchors int `mapstructure:"anchors"`

	// PollInterval is the pause between discovery scans while waiting for
	// quorum.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// DiscoveryTimeout bounds the whole discovery phase. Zero, the
	// default, waits forever: cluster formation may legitimately take a
	// long time, so a bound is opt-in.
	DiscoveryTimeout time.Duration `mapstructure:"discovery-timeout"`

	// RepublishInterval is the pause between discovery record refreshes once
	// the node is up.
	RepublishInterval time.Duration `mapstructure:"republish-interval"`

	// RestorePrefix is the object-store prefix holding backups to restore
	// from. When empty, no restore is attempted.
	RestorePrefix string `mapstructure:"restore-from"`

	// SnapshotInterval is the pause between periodic backups. Zero disables
	// them.
	SnapshotInterval time.Duration `mapstructure:"snapshot-interval"`

	// NodeBinary is the path of the blockchain node executable the agent
	// supervises.
	NodeBinary string `mapstructure:"node-binary"`

	// HTTPHost is the address:port of the node's HTTP API, used for health
	// probes.
	HTTPHost string `mapstructure:"http-host"`

	// RestartCeiling is the number of rapid restarts tolerated before the
	// agent gives up on the node process.
	RestartCeiling int `mapstructure:"restart-ceiling"`

	// HealthInterval is the pause between liveness probes.
	HealthInterval time.Duration `mapstructure:"health-interval"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		NodeKind:          DefaultNodeKind,
		NetworkID:         DefaultNetworkID,
		Device:            DefaultDevice,
		Mountpoint:        DefaultMountpoint,
		Fstype:            DefaultFstype,
		AttachRetries:     DefaultAttachRetries,
		AttachDelay:       DefaultAttachDelay,
		Quorum:            DefaultQuorum,
		ExpectedAnchors:   DefaultExpectedAnchors,
		PollInterval:      DefaultPollInterval,
		DiscoveryTimeout:  DefaultDiscoveryTimeout,
		RepublishInterval: DefaultRepublishInterval,
		SnapshotInterval:  DefaultSnapshotInterval,
		HTTPHost:          DefaultHTTPHost,
		RestartCeiling:    DefaultRestartCeiling,
		HealthInterval:    DefaultHealthInterval,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level agent directory.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NodeConfigFile returns the full path of the rendered node configuration.
func (c *Config) NodeConfigFile() string {
	return filepath.Join(c.DataDir, DefaultNodeConfigFile)
}

// DBDir returns the directory, on the mounted volume, holding the node's
// database.
func (c *Config) DBDir() string {
	return filepath.Join(c.Mountpoint, DefaultDBFile)
}

// JournalDir returns the directory holding the local snapshot journal.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, DefaultJournalFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "rimed". The
// log is mirrored to a file in the data directory when that directory
// exists.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if _, err := os.Stat(c.DataDir); err == nil {
			c.logger.Hooks.Add(lfshook.NewHook(
				filepath.Join(c.DataDir, DefaultLogFile),
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "rimed")
}

// DefaultDataDir return the default directory name for top-level agent
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Rimed")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Rimed")
		} else {
			return filepath.Join(home, ".rimed")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
