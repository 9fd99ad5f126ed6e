// Package agent wires the boot stages together: mount the data volume,
// provision the node key, discover peers, restore data, and supervise the
// node process.
package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/backup"
	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/config"
	"github.com/rimechain/rime/src/discovery"
	"github.com/rimechain/rime/src/events"
	"github.com/rimechain/rime/src/keys"
	"github.com/rimechain/rime/src/metadata"
	"github.com/rimechain/rime/src/storage"
	"github.com/rimechain/rime/src/supervisor"
	"github.com/rimechain/rime/src/volume"
)

const defaultStakingPort = "9651"

// Agent is the top-level engine. Init builds the stage managers from
// configuration, Run drives them in order.
type Agent struct {
	Config   *config.Config
	Store    storage.Store
	Sealer   keys.Sealer
	Metadata metadata.Source

	// Device and Runner default to the exec-backed implementations. Tests
	// replace them before calling Init.
	Device volume.Device
	Runner supervisor.Runner

	Volume      *volume.Manager
	Keys        *keys.Manager
	Coordinator *discovery.Coordinator
	Backup      *backup.Manager
	Supervisor  *supervisor.Supervisor
	Events      *events.Recorder

	Key   *keys.NodeKey
	Peers []*discovery.Peer

	machineID string
	advertise string
	kind      discovery.Kind

	clock  clockwork.Clock
	logger *logrus.Entry
}

// NewAgent ...
func NewAgent(cfg *config.Config, store storage.Store, sealer keys.Sealer, meta metadata.Source) *Agent {
	return &Agent{
		Config:   cfg,
		Store:    store,
		Sealer:   sealer,
		Metadata: meta,
		clock:    clockwork.NewRealClock(),
	}
}

// SetClock replaces the wall clock. For tests.
func (a *Agent) SetClock(clock clockwork.Clock) {
	a.clock = clock
}

func (a *Agent) initIdentity(ctx context.Context) error {
	a.machineID = a.Config.MachineID
	if a.machineID == "" {
		id, err := a.Metadata.InstanceID(ctx)
		if err != nil {
			return common.NewFault(common.Configuration, "identity",
				fmt.Errorf("no machine id configured and none available: %w", err))
		}
		a.machineID = id
	}

	a.advertise = a.Config.AdvertiseAddr
	if a.advertise == "" {
		ip, err := a.Metadata.PrivateIP(ctx)
		if err != nil {
			return common.NewFault(common.Configuration, "identity",
				fmt.Errorf("no advertise address configured and none available: %w", err))
		}
		a.advertise = net.JoinHostPort(ip, defaultStakingPort)
	}

	// The machine tag wins over the configured kind so a single image can
	// serve both roles.
	kindName := a.Config.NodeKind
	if tag, err := a.Metadata.Tag(ctx, "node-kind"); err == nil && tag != "" {
		kindName = tag
	}

	kind, err := discovery.ParseKind(kindName)
	if err != nil {
		return common.NewFault(common.Configuration, "identity", err)
	}
	a.kind = kind

	a.logger.WithFields(logrus.Fields{
		"machine_id": a.machineID,
		"advertise":  a.advertise,
		"node_kind":  a.kind.String(),
	}).Debug("resolved identity")

	return nil
}

func (a *Agent) initEvents() error {
	// Events carry the machine id until the node key exists.
	a.Events = events.NewRecorder(a.Store, a.Config.ClusterID, a.machineID, a.clock, a.logger)
	return nil
}

func (a *Agent) initVolume() error {
	if a.Device == nil {
		a.Device = volume.NewExecDevice()
	}

	a.Volume = volume.NewManager(
		a.Device,
		a.Config.Device,
		a.Config.Mountpoint,
		a.Config.Fstype,
		a.Config.AttachRetries,
		a.Config.AttachDelay,
		a.clock,
		a.logger,
	)

	return nil
}

func (a *Agent) initKeys() error {
	a.Keys = keys.NewManager(
		a.Store,
		a.Sealer,
		a.Config.ClusterID,
		a.Config.NetworkID,
		a.logger,
	)
	return nil
}

func (a *Agent) initCoordinator() error {
	record := &discovery.NodeRecord{
		NodeID:    a.Key.NodeID(),
		NodeKind:  a.kind,
		NetworkID: a.Config.NetworkID,
		NetAddr:   a.advertise,
	}

	a.Coordinator = discovery.NewCoordinator(a.Store, record, discovery.Config{
		ClusterID:       a.Config.ClusterID,
		Quorum:          a.Config.Quorum,
		ExpectedAnchors: a.Config.ExpectedAnchors,
		PollInterval:    a.Config.PollInterval,
		Timeout:         a.Config.DiscoveryTimeout,
	}, a.clock, a.logger)

	return nil
}

func (a *Agent) initBackup() error {
	journal, err := backup.OpenJournal(a.Config.JournalDir())
	if err != nil {
		return common.NewFault(common.ResourceUnavailable, "backup",
			fmt.Errorf("cannot open snapshot journal: %w", err))
	}

	a.Backup = backup.NewManager(
		a.Store,
		journal,
		a.Config.ClusterID,
		a.Key.NodeID(),
		a.Config.DBDir(),
		a.Config.RestorePrefix,
		a.clock,
		a.logger,
	)

	return nil
}

func (a *Agent) initSupervisor() error {
	if a.Runner == nil {
		a.Runner = &supervisor.ExecRunner{
			Binary:     a.Config.NodeBinary,
			ConfigPath: a.Config.NodeConfigFile(),
			Logger:     a.logger,
		}
	}

	health := supervisor.NewHealthClient(a.Config.HTTPHost, a.Config.HealthInterval)

	a.Supervisor = supervisor.NewSupervisor(
		a.Runner,
		health,
		supervisor.Config{
			RestartCeiling: a.Config.RestartCeiling,
			HealthInterval: a.Config.HealthInterval,
			RestartBackoff: config.DefaultRestartBackoff,
			BackoffCeiling: config.DefaultBackoffCeiling,
		},
		a.onNodeHealthy,
		a.clock,
		a.logger,
	)

	return nil
}

// onNodeHealthy fires the first time a supervised node incarnation reports
// live. Anchors use it to promote their discovery record to the ready
// prefix.
func (a *Agent) onNodeHealthy(ctx context.Context) error {
	a.Events.Record(ctx, "supervise", "node_healthy", "")
	return a.Coordinator.MarkHealthy(ctx)
}

// Init resolves the machine's identity and builds the stage managers that
// do not depend on the node key. Key-dependent managers are built during
// Run, once the key exists.
func (a *Agent) Init(ctx context.Context) error {
	a.logger = a.Config.Logger()

	if a.Config.ClusterID == "" {
		return common.NewFault(common.Configuration, "init",
			fmt.Errorf("cluster id is required"))
	}

	if err := a.initIdentity(ctx); err != nil {
		return err
	}

	if err := a.initEvents(); err != nil {
		return err
	}

	if err := a.initVolume(); err != nil {
		return err
	}

	if err := a.initKeys(); err != nil {
		return err
	}

	return nil
}

// Run drives the boot sequence. It blocks until the supervised node process
// exceeds its restart ceiling, a stage fails, or ctx is cancelled. A nil
// return means ctx was cancelled during a clean run.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.runStages(ctx); err != nil {
		if fault, ok := err.(*common.Fault); ok {
			a.Events.Record(ctx, fault.Stage(), "fatal", fault.Error())
			a.logger.WithFields(logrus.Fields{
				"stage":    fault.Stage(),
				"category": fault.Category().String(),
				"error":    fault,
			}).Error("boot failed")
		}
		return err
	}
	return nil
}

func (a *Agent) runStages(ctx context.Context) error {
	a.Events.Record(ctx, "volume", "waiting", "")
	if err := a.Volume.WaitAndMount(ctx); err != nil {
		return err
	}
	a.Events.Record(ctx, "volume", "mounted", a.Config.Mountpoint)

	key, err := a.Keys.ProvisionOrLoad(ctx, a.machineID)
	if err != nil {
		return err
	}
	a.Key = key
	a.Events.SetNodeID(key.NodeID())
	a.Events.Record(ctx, "keys", "provisioned", key.NodeID())

	if err := a.Keys.WriteArtifacts(key, a.Config.DataDir); err != nil {
		return err
	}

	if err := a.initCoordinator(); err != nil {
		return err
	}

	peers, err := a.Coordinator.Resolve(ctx)
	if err != nil {
		return err
	}
	a.Peers = peers
	a.Events.Record(ctx, "discovery", "resolved", fmt.Sprintf("peers=%d", len(peers)))

	if err := a.initBackup(); err != nil {
		return err
	}

	if err := a.Backup.RestoreIfConfigured(ctx); err != nil {
		return err
	}
	if err := a.Backup.EnsureDataDir(); err != nil {
		return err
	}

	if err := a.renderNodeConfig(); err != nil {
		return err
	}

	if err := a.initSupervisor(); err != nil {
		return err
	}

	go a.Coordinator.RunRepublisher(ctx, a.Config.RepublishInterval)
	if a.Config.SnapshotInterval > 0 {
		go a.Backup.RunSnapshotter(ctx, a.Config.SnapshotInterval)
	}

	a.Events.Record(ctx, "supervise", "node_starting", "")
	return a.Supervisor.Run(ctx)
}

// renderNodeConfig writes the configuration file the supervised node reads.
// The peer list is the one fixed at discovery time.
func (a *Agent) renderNodeConfig() error {
	host, _, err := net.SplitHostPort(a.advertise)
	if err != nil {
		host = a.advertise
	}

	nodeConfig := supervisor.RenderNodeConfig(
		a.Config.NetworkID,
		a.Config.DBDir(),
		a.Config.Keyfile(),
		a.Config.HTTPHost,
		host,
		a.Peers,
	)

	if err := nodeConfig.WriteFile(a.Config.NodeConfigFile()); err != nil {
		return common.NewFault(common.ResourceUnavailable, "supervise",
			fmt.Errorf("cannot write node config: %w", err))
	}

	return nil
}
