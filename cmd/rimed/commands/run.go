package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rimechain/rime/src/agent"
	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/keys"
	"github.com/rimechain/rime/src/metadata"
	"github.com/rimechain/rime/src/storage"
)

//NewRunCmd returns the command that starts the bootstrap agent
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the bootstrap agent",
		PreRunE: loadConfig,
		RunE:    runAgent,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runAgent(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _config.Bucket == "" {
		return common.NewFault(common.Configuration, "init",
			fmt.Errorf("an object-store bucket is required"))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return common.NewFault(common.Configuration, "init",
			fmt.Errorf("cannot load AWS configuration: %w", err))
	}

	store := storage.NewS3Store(s3.NewFromConfig(awsCfg), _config.Bucket, logger)

	var sealer keys.Sealer
	switch {
	case _config.KMSKeyID != "":
		sealer = keys.NewKMSSealer(kms.NewFromConfig(awsCfg), _config.KMSKeyID, _config.ClusterID)
	case _config.SealPassphrase != "":
		sealer = keys.NewStaticSealer("local", _config.SealPassphrase)
	default:
		return common.NewFault(common.Configuration, "init",
			fmt.Errorf("either a KMS key or a seal passphrase is required"))
	}

	var meta metadata.Source
	if _config.MachineID != "" && _config.AdvertiseAddr != "" {
		meta = &metadata.StaticSource{ID: _config.MachineID, IP: _config.AdvertiseAddr}
	} else {
		meta = metadata.NewIMDSSource(imds.NewFromConfig(awsCfg))
	}

	engine := agent.NewAgent(_config, store, sealer, meta)

	if err := engine.Init(ctx); err != nil {
		logger.Error("Cannot initialize agent:", err)
		return err
	}

	return engine.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and artifacts")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Fleet
	cmd.Flags().String("cluster", _config.ClusterID, "Cluster id, the top-level object-store prefix")
	cmd.Flags().String("bucket", _config.Bucket, "Object-store bucket shared by the fleet")
	cmd.Flags().String("node-kind", _config.NodeKind, "anchor or non-anchor")
	cmd.Flags().Uint32("network-id", _config.NetworkID, "Blockchain network id")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for this node")
	cmd.Flags().String("machine-id", _config.MachineID, "Stable machine identifier")

	// Keys
	cmd.Flags().String("kms-key", _config.KMSKeyID, "KMS key id sealing node private keys")
	cmd.Flags().String("seal-passphrase", _config.SealPassphrase, "Local sealer passphrase, used when no KMS key is set")

	// Volume
	cmd.Flags().String("device", _config.Device, "Block device of the data volume")
	cmd.Flags().String("mountpoint", _config.Mountpoint, "Mountpoint of the data volume")
	cmd.Flags().String("fstype", _config.Fstype, "Filesystem created on a blank volume")
	cmd.Flags().Int("attach-retries", _config.AttachRetries, "Attachment checks before giving up")
	cmd.Flags().Duration("attach-delay", _config.AttachDelay, "Pause between attachment checks")

	// Discovery
	cmd.Flags().Int("quorum", _config.Quorum, "Ready anchors required before a non-anchor joins")
	cmd.Flags().Int("anchors", _config.ExpectedAnchors, "Total anchors the fleet was launched with")
	cmd.Flags().Duration("poll-interval", _config.PollInterval, "Pause between discovery scans")
	cmd.Flags().Duration("discovery-timeout", _config.DiscoveryTimeout, "Bound on the discovery phase")
	cmd.Flags().Duration("republish-interval", _config.RepublishInterval, "Pause between discovery record refreshes")

	// Backup
	cmd.Flags().String("restore-from", _config.RestorePrefix, "Object-store prefix to restore from")
	cmd.Flags().Duration("snapshot-interval", _config.SnapshotInterval, "Pause between periodic backups, 0 disables")

	// Node process
	cmd.Flags().String("node-binary", _config.NodeBinary, "Path of the node executable")
	cmd.Flags().String("http-host", _config.HTTPHost, "Address of the node's HTTP API")
	cmd.Flags().Int("restart-ceiling", _config.RestartCeiling, "Rapid restarts tolerated before giving up")
	cmd.Flags().Duration("health-interval", _config.HealthInterval, "Pause between liveness probes")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":           _config.DataDir,
		"ClusterID":         _config.ClusterID,
		"Bucket":            _config.Bucket,
		"NodeKind":          _config.NodeKind,
		"NetworkID":         _config.NetworkID,
		"AdvertiseAddr":     _config.AdvertiseAddr,
		"Device":            _config.Device,
		"Mountpoint":        _config.Mountpoint,
		"Quorum":            _config.Quorum,
		"ExpectedAnchors":   _config.ExpectedAnchors,
		"PollInterval":      _config.PollInterval,
		"DiscoveryTimeout":  _config.DiscoveryTimeout,
		"RestorePrefix":     _config.RestorePrefix,
		"SnapshotInterval":  _config.SnapshotInterval,
		"NodeBinary":        _config.NodeBinary,
		"HTTPHost":          _config.HTTPHost,
		"RestartCeiling":    _config.RestartCeiling,
		"LogLevel":          _config.LogLevel,
		"Moniker":           _config.Moniker,
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/rimed.toml (.json, .yaml also work)
	viper.SetConfigName("rimed")          // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir)  // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
