// Package supervisor launches the node binary and keeps it running. Crashes
// restart the process under a capped exponential backoff; blowing through
// the restart ceiling is an agent-level failure, not something to mask by
// retrying forever.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/common"
)

const stageSupervisor = "supervisor"

// stableRunDuration is how long a process must live for its eventual crash
// to be treated as a fresh incident rather than a continuation of a crash
// loop.
const stableRunDuration = 10 * time.Minute

// Process is a started node process.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error
	// Stop asks the process to terminate.
	Stop() error
}

// Runner starts node processes. The exec-backed implementation is the real
// one; tests script their own.
type Runner interface {
	Start(ctx context.Context) (Process, error)
}

// ExecRunner launches the node binary with its rendered config file.
type ExecRunner struct {
	Binary     string
	ConfigPath string
	Logger     *logrus.Entry
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Start implements Runner.
func (r *ExecRunner) Start(ctx context.Context) (Process, error) {
	cmd := exec.CommandContext(ctx, r.Binary, "--config-file", r.ConfigPath)
	cmd.Stdout = r.Logger.WriterLevel(logrus.InfoLevel)
	cmd.Stderr = r.Logger.WriterLevel(logrus.WarnLevel)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

// Config holds the supervisor's parameters.
type Config struct {
	// RestartCeiling is the number of crash-restarts tolerated before the
	// supervisor gives up.
	RestartCeiling int
	// HealthInterval is the delay between liveness polls.
	HealthInterval time.Duration
	// RestartBackoff is the delay after the first crash.
	RestartBackoff time.Duration
	// BackoffCeiling caps the restart delay as the backoff grows.
	BackoffCeiling time.Duration
}

// Supervisor runs the node process and reports its health.
type Supervisor struct {
	runner Runner
	health *HealthClient
	cfg    Config

	// onHealthy fires the first time the node process reports alive. The
	// agent uses it to promote an anchor to the ready prefix.
	onHealthy     func(context.Context) error
	onHealthyOnce sync.Once

	clock  clockwork.Clock
	logger *logrus.Entry
}

// NewSupervisor ...
func NewSupervisor(runner Runner, health *HealthClient, cfg Config, onHealthy func(context.Context) error, clock clockwork.Clock, logger *logrus.Entry) *Supervisor {
	return &Supervisor{
		runner:    runner,
		health:    health,
		cfg:       cfg,
		onHealthy: onHealthy,
		clock:     clock,
		logger:    logger,
	}
}

// Run supervises the node process until ctx is cancelled or the restart
// ceiling is exceeded. A process that stays up for a while earns back a
// clean slate; only tight crash loops count against the ceiling.
func (s *Supervisor) Run(ctx context.Context) error {
	restarts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RestartBackoff
	bo.MaxInterval = s.cfg.BackoffCeiling
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		started := s.clock.Now()

		proc, err := s.runner.Start(ctx)
		if err != nil {
			s.logger.WithField("error", err).Error("cannot start node process")
		} else {
			s.logger.Info("node process started")

			healthCtx, stopHealth := context.WithCancel(ctx)
			go s.watchHealth(healthCtx)

			err = proc.Wait()
			stopHealth()
		}

		if ctx.Err() != nil {
			return nil
		}

		if s.clock.Now().Sub(started) >= stableRunDuration {
			restarts = 0
			bo.Reset()
		}

		restarts++
		if restarts > s.cfg.RestartCeiling {
			return common.NewFault(common.Transient, stageSupervisor,
				fmt.Errorf("node process crash-looped %d times, last error: %v", restarts, err))
		}

		wait := bo.NextBackOff()
		s.logger.WithFields(logrus.Fields{
			"restart": restarts,
			"ceiling": s.cfg.RestartCeiling,
			"wait":    wait,
			"error":   err,
		}).Warn("node process exited, restarting")

		select {
		case <-s.clock.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// watchHealth polls liveness while one incarnation of the process runs, and
// fires the onHealthy hook the first time the node comes alive.
func (s *Supervisor) watchHealth(ctx context.Context) {
	for {
		select {
		case <-s.clock.After(s.cfg.HealthInterval):
			alive, err := s.health.Liveness(ctx)
			if err != nil {
				s.logger.WithField("error", err).Debug("liveness poll failed")
				continue
			}
			if alive {
				s.onHealthyOnce.Do(func() {
					s.logger.Info("node process healthy")
					if s.onHealthy != nil {
						if err := s.onHealthy(ctx); err != nil {
							s.logger.WithField("error", err).Error("on-healthy hook failed")
						}
					}
				})
			}
		case <-ctx.Done():
			return
		}
	}
}
