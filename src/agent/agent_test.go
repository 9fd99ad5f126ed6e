package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/config"
	"github.com/rimechain/rime/src/discovery"
	"github.com/rimechain/rime/src/keys"
	"github.com/rimechain/rime/src/metadata"
	"github.com/rimechain/rime/src/storage"
	"github.com/rimechain/rime/src/supervisor"
)

type fakeDevice struct {
	fstype string
}

func (d *fakeDevice) Exists(device string) (bool, error)      { return true, nil }
func (d *fakeDevice) Filesystem(device string) (string, error) { return d.fstype, nil }
func (d *fakeDevice) Format(device, fstype string) error       { return nil }
func (d *fakeDevice) Mount(device, mountpoint, fstype string) error {
	return nil
}
func (d *fakeDevice) EnsureMountTable(device, mountpoint, fstype string) error {
	return nil
}

type blockingProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *blockingProcess) Wait() error {
	<-p.done
	return nil
}

func (p *blockingProcess) Stop() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Start(ctx context.Context) (supervisor.Process, error) {
	proc := &blockingProcess{done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			proc.Stop()
		case <-proc.done:
		}
	}()
	select {
	case r.started <- struct{}{}:
	default:
	}
	return proc, nil
}

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(supervisor.HealthResponse{Healthy: true})
	}))
	t.Cleanup(server.Close)
	return server
}

func testAgent(t *testing.T, store storage.Store, kind string) (*Agent, *blockingRunner) {
	t.Helper()

	cfg := config.NewTestConfig(t, logrus.DebugLevel)
	cfg.SetDataDir(t.TempDir())
	cfg.ClusterID = "fleet-1"
	cfg.NodeKind = kind
	cfg.Mountpoint = t.TempDir()
	cfg.AttachRetries = 1
	cfg.AttachDelay = time.Millisecond
	cfg.Quorum = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.DiscoveryTimeout = 5 * time.Second
	cfg.RepublishInterval = time.Hour
	cfg.SnapshotInterval = 0
	cfg.HealthInterval = 5 * time.Millisecond
	cfg.RestartCeiling = 3

	server := healthyServer(t)
	cfg.HTTPHost = strings.TrimPrefix(server.URL, "http://")

	sealer := keys.NewStaticSealer("local-key", "test passphrase")
	meta := &metadata.StaticSource{
		ID:   "machine-" + kind,
		IP:   "10.0.0.7",
		Tags: map[string]string{},
	}

	a := NewAgent(cfg, store, sealer, meta)
	a.Device = &fakeDevice{fstype: cfg.Fstype}

	runner := &blockingRunner{started: make(chan struct{}, 1)}
	a.Runner = runner

	return a, runner
}

func TestAnchorBootsEndToEnd(t *testing.T) {
	store := storage.NewInmemStore()
	a, runner := testAgent(t, store, "anchor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Init(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("node process never started")
	}

	// The anchor publishes itself under the bootstrapping prefix before the
	// node process starts.
	paths, err := store.List(ctx, "fleet-1/discover/bootstrapping-anchor-nodes/")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 bootstrapping record, got %d", len(paths))
	}

	// A live health endpoint promotes the anchor to the ready prefix.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ready, err := store.List(ctx, "fleet-1/discover/ready-anchor-nodes/")
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if len(ready) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("anchor never promoted to ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The rendered node config names the key and database on disk.
	data, err := os.ReadFile(a.Config.NodeConfigFile())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	var nodeConfig map[string]interface{}
	if err := json.Unmarshal(data, &nodeConfig); err != nil {
		t.Fatalf("err: %v", err)
	}
	if nodeConfig["staking-key-file"] != a.Config.Keyfile() {
		t.Fatalf("unexpected staking key: %v", nodeConfig["staking-key-file"])
	}

	if _, err := os.Stat(a.Config.Keyfile()); err != nil {
		t.Fatalf("key artifact missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Config.DataDir, config.DefaultKeyInfoFile)); err != nil {
		t.Fatalf("key info missing: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestNonAnchorWaitsForAnchors(t *testing.T) {
	store := storage.NewInmemStore()

	// One ready anchor is enough for quorum 1.
	anchor, anchorRunner := testAgent(t, store, "anchor")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := anchor.Init(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}
	anchorDone := make(chan error, 1)
	go func() { anchorDone <- anchor.Run(ctx) }()

	select {
	case <-anchorRunner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("anchor never started")
	}

	follower, followerRunner := testAgent(t, store, "non-anchor")
	if err := follower.Init(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}
	followerDone := make(chan error, 1)
	go func() { followerDone <- follower.Run(ctx) }()

	select {
	case <-followerRunner.started:
	case <-time.After(10 * time.Second):
		t.Fatal("non-anchor never reached quorum")
	}

	if len(follower.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(follower.Peers))
	}
	if follower.Peers[0].NodeID != anchor.Key.NodeID() {
		t.Fatalf("unexpected peer: %s", follower.Peers[0].NodeID)
	}

	// The follower announced itself once joined.
	paths, err := store.List(ctx, "fleet-1/discover/ready-non-anchor-nodes/")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 non-anchor record, got %d", len(paths))
	}

	cancel()
	if err := <-anchorDone; err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := <-followerDone; err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestIdentitySurvivesRestart(t *testing.T) {
	store := storage.NewInmemStore()

	a1, runner1 := testAgent(t, store, "anchor")
	ctx, cancel := context.WithCancel(context.Background())

	if err := a1.Init(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}
	done1 := make(chan error, 1)
	go func() { done1 <- a1.Run(ctx) }()

	select {
	case <-runner1.started:
	case <-time.After(5 * time.Second):
		t.Fatal("node process never started")
	}
	firstID := a1.Key.NodeID()

	cancel()
	if err := <-done1; err != nil {
		t.Fatalf("err: %v", err)
	}

	// Same machine id, fresh process: the sealed envelope yields the same
	// identity.
	a2, runner2 := testAgent(t, store, "anchor")
	a2.Config.MachineID = "machine-anchor"

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	if err := a2.Init(ctx2); err != nil {
		t.Fatalf("err: %v", err)
	}
	done2 := make(chan error, 1)
	go func() { done2 <- a2.Run(ctx2) }()

	select {
	case <-runner2.started:
	case <-time.After(5 * time.Second):
		t.Fatal("restarted node never started")
	}

	if a2.Key.NodeID() != firstID {
		t.Fatalf("identity changed across restart: %s != %s", a2.Key.NodeID(), firstID)
	}

	cancel2()
	if err := <-done2; err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestInitRejectsMissingCluster(t *testing.T) {
	cfg := config.NewTestConfig(t, logrus.DebugLevel)
	cfg.SetDataDir(t.TempDir())

	a := NewAgent(cfg, storage.NewInmemStore(), keys.NewStaticSealer("k", "p"), &metadata.StaticSource{ID: "m", IP: "10.0.0.1"})
	if err := a.Init(context.Background()); err == nil {
		t.Fatal("expected error for missing cluster id")
	}
}

func TestTagOverridesConfiguredKind(t *testing.T) {
	cfg := config.NewTestConfig(t, logrus.DebugLevel)
	cfg.SetDataDir(t.TempDir())
	cfg.ClusterID = "fleet-1"
	cfg.NodeKind = "non-anchor"

	meta := &metadata.StaticSource{
		ID:   "machine-1",
		IP:   "10.0.0.1",
		Tags: map[string]string{"node-kind": "anchor"},
	}

	a := NewAgent(cfg, storage.NewInmemStore(), keys.NewStaticSealer("k", "p"), meta)
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if a.kind != discovery.Anchor {
		t.Fatalf("expected tag to win, got %s", a.kind.String())
	}
}
