package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/discovery"
)

// fakeProcess exits when told to, or immediately if crash is set.
type fakeProcess struct {
	crash bool
	done  chan struct{}
	once  sync.Once
}

func (p *fakeProcess) Wait() error {
	if p.crash {
		return fmt.Errorf("exit status 1")
	}
	<-p.done
	return nil
}

func (p *fakeProcess) Stop() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// fakeRunner hands out crashing processes, then one stable process.
type fakeRunner struct {
	mu      sync.Mutex
	crashes int
	started int
	stable  *fakeProcess
}

func (r *fakeRunner) Start(ctx context.Context) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	if r.started <= r.crashes {
		return &fakeProcess{crash: true}, nil
	}
	if r.stable == nil {
		r.stable = &fakeProcess{done: make(chan struct{})}
	}
	return r.stable, nil
}

func testConfig(ceiling int) Config {
	return Config{
		RestartCeiling: ceiling,
		HealthInterval: 5 * time.Millisecond,
		RestartBackoff: time.Millisecond,
		BackoffCeiling: 2 * time.Millisecond,
	}
}

func testSupervisor(t *testing.T, runner Runner, health *HealthClient, cfg Config, onHealthy func(context.Context) error) *Supervisor {
	if health == nil {
		health = NewHealthClient("127.0.0.1:0", time.Millisecond)
	}
	return NewSupervisor(runner, health, cfg, onHealthy,
		clockwork.NewRealClock(), common.NewTestEntry(t, "supervisor"))
}

func TestRunExceedsRestartCeiling(t *testing.T) {
	runner := &fakeRunner{crashes: 100}
	s := testSupervisor(t, runner, nil, testConfig(3), nil)

	err := s.Run(context.Background())
	if !common.IsFault(err, common.Transient) {
		t.Fatalf("expected transient fault, got %v", err)
	}

	runner.mu.Lock()
	started := runner.started
	runner.mu.Unlock()
	if started != 4 {
		t.Fatalf("expected 4 starts (1 + 3 restarts), got %d", started)
	}
}

func TestRunRecoversWithinCeiling(t *testing.T) {
	runner := &fakeRunner{crashes: 2}
	s := testSupervisor(t, runner, nil, testConfig(5), nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Wait for the stable process to be handed out, then shut down.
	deadline := time.After(5 * time.Second)
	for {
		runner.mu.Lock()
		stable := runner.stable
		runner.mu.Unlock()
		if stable != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stable process never started")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	runner.stable.Stop()

	if err := <-done; err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestOnHealthyFiresOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"healthy":true}`))
	}))
	defer server.Close()

	health := NewHealthClient(strings.TrimPrefix(server.URL, "http://"), time.Second)

	var mu sync.Mutex
	calls := 0
	onHealthy := func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	runner := &fakeRunner{}
	s := testSupervisor(t, runner, health, testConfig(3), onHealthy)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Give the health watcher several poll ticks.
	time.Sleep(50 * time.Millisecond)

	cancel()
	runner.mu.Lock()
	stable := runner.stable
	runner.mu.Unlock()
	if stable != nil {
		stable.Stop()
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one on-healthy call, got %d", calls)
	}
}

func TestHealthClientParsesChecks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"healthy":false,"checks":{"network":{"error":"no peers","timestamp":"2024-01-01T00:00:00Z","contiguousFailures":3}}}`))
	}))
	defer server.Close()

	client := NewHealthClient(strings.TrimPrefix(server.URL, "http://"), time.Second)

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if health.Healthy {
		t.Fatalf("expected unhealthy")
	}
	check, ok := health.Checks["network"]
	if !ok {
		t.Fatalf("missing network check")
	}
	if check.Error != "no peers" || check.ContiguousFailures != 3 {
		t.Fatalf("bad check: %+v", check)
	}
}

func TestRenderNodeConfig(t *testing.T) {
	peers := []*discovery.Peer{
		{NodeID: "node1aaa", NetAddr: "10.0.0.1:9651"},
		{NodeID: "node1bbb", NetAddr: "10.0.0.2:9651"},
	}

	cfg := RenderNodeConfig(1, "/data/db", "/data/node.key", "127.0.0.1", "10.0.0.9", peers)

	if cfg.BootstrapIPs != "10.0.0.1:9651,10.0.0.2:9651" {
		t.Fatalf("bad bootstrap ips: %s", cfg.BootstrapIPs)
	}
	if cfg.BootstrapIDs != "node1aaa,node1bbb" {
		t.Fatalf("bad bootstrap ids: %s", cfg.BootstrapIDs)
	}

	// Same peers must render the same config; the supervised process's
	// flags must not flap between restarts.
	again := RenderNodeConfig(1, "/data/db", "/data/node.key", "127.0.0.1", "10.0.0.9", peers)
	if *cfg != *again {
		t.Fatalf("rendering not deterministic")
	}
}

func TestRenderNodeConfigEmptyPeers(t *testing.T) {
	cfg := RenderNodeConfig(1, "/data/db", "/data/node.key", "127.0.0.1", "10.0.0.9", nil)
	if cfg.BootstrapIPs != "" || cfg.BootstrapIDs != "" {
		t.Fatalf("first anchor must render empty bootstrap lists: %+v", cfg)
	}
}
