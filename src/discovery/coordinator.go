package discovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/storage"
)

const stageDiscovery = "discovery"

// publishRetries bounds retries for the node's own record writes. Reads are
// retried forever by the polling loop itself; writes get a budget because
// without a published record the node is invisible and must not proceed.
const publishRetries = 10

// Coordinator resolves this node's bootstrap peer set. Anchor nodes announce
// themselves and proceed; non-anchor nodes poll until a quorum of ready
// anchors is visible.
type Coordinator struct {
	state

	// healthy latches to 1 once MarkHealthy has promoted the record. Read
	// by the republisher goroutine.
	healthy uint32

	store     storage.Store
	publisher *Publisher
	record    *NodeRecord

	clusterID       string
	quorum          int
	expectedAnchors int
	pollInterval    time.Duration
	timeout         time.Duration

	clock  clockwork.Clock
	logger *logrus.Entry
}

// Config carries the coordinator's parameters.
type Config struct {
	// ClusterID scopes every object path.
	ClusterID string
	// Quorum is the number of distinct ready anchors a non-anchor node must
	// observe before proceeding. Fixed at cluster-creation time.
	Quorum int
	// ExpectedAnchors is the provisioned anchor count, used only to warn
	// about an unsatisfiable quorum. Zero means unknown.
	ExpectedAnchors int
	// PollInterval is the fixed delay between quorum polls.
	PollInterval time.Duration
	// Timeout bounds the whole discovery stage. Zero means wait forever,
	// which is the default: cluster formation may legitimately take many
	// minutes.
	Timeout time.Duration
}

// NewCoordinator ...
func NewCoordinator(store storage.Store, record *NodeRecord, cfg Config, clock clockwork.Clock, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		store:           store,
		publisher:       NewPublisher(store, cfg.ClusterID, clock, logger),
		record:          record,
		clusterID:       cfg.ClusterID,
		quorum:          cfg.Quorum,
		expectedAnchors: cfg.ExpectedAnchors,
		pollInterval:    cfg.PollInterval,
		timeout:         cfg.Timeout,
		clock:           clock,
		logger:          logger,
	}
}

// State returns the coordinator's protocol state.
func (c *Coordinator) State() State {
	return c.getState()
}

// Record returns the node's own record.
func (c *Coordinator) Record() *NodeRecord {
	return c.record
}

// Resolve runs the discovery protocol to completion and returns the
// deterministically ordered bootstrap peer set, never including this node
// itself.
func (c *Coordinator) Resolve(ctx context.Context) ([]*Peer, error) {
	switch c.record.NodeKind {
	case Anchor:
		return c.resolveAnchor(ctx)
	case NonAnchor:
		return c.resolveNonAnchor(ctx)
	default:
		return nil, common.NewFault(common.Configuration, stageDiscovery,
			fmt.Errorf("unhandled node kind %d", c.record.NodeKind))
	}
}

// resolveAnchor publishes the node under the bootstrapping prefix right away
// and compiles a best-effort peer set from the anchors already visible.
// Anchors are not quorum-gated: the first anchor to boot sees an empty peer
// set, and that is correct.
func (c *Coordinator) resolveAnchor(ctx context.Context) ([]*Peer, error) {
	if err := c.publishWithRetry(ctx, c.publisher.PublishBootstrappingAnchor); err != nil {
		return nil, common.NewFault(common.Transient, stageDiscovery, err)
	}
	c.setState(SelfPublished)

	objects := c.fetchPrefix(ctx, BootstrappingAnchorPrefix(c.clusterID))
	objects = append(objects, c.fetchPrefix(ctx, ReadyAnchorPrefix(c.clusterID))...)

	view := ComputeQuorumView(objects, 0, c.record.NodeID)
	c.warnMalformed(view)

	c.setState(Ready)

	c.logger.WithFields(logrus.Fields{
		"node_id": c.record.NodeID,
		"peers":   len(view.Peers),
	}).Info("anchor registered")

	return view.Peers, nil
}

// resolveNonAnchor polls the ready-anchor prefix until quorum, then
// publishes the node's own record. Publication is deferred until quorum so
// a non-anchor node never advertises itself against a cluster that cannot
// serve it.
func (c *Coordinator) resolveNonAnchor(ctx context.Context) ([]*Peer, error) {
	c.setState(AwaitingQuorum)

	var deadline time.Time
	if c.timeout > 0 {
		deadline = c.clock.Now().Add(c.timeout)
	}

	if c.expectedAnchors > 0 && c.quorum > c.expectedAnchors {
		// Possibly a typo in cluster parameters, but membership can still
		// grow, so keep polling rather than give up.
		c.logger.WithFields(logrus.Fields{
			"quorum":           c.quorum,
			"expected_anchors": c.expectedAnchors,
		}).Warn("configured quorum exceeds expected anchor count; wait may never end")
	}

	for {
		view, err := c.observe(ctx)
		if err != nil {
			c.logger.WithField("error", err).Warn("cannot list anchor records, will retry")
		} else {
			c.warnMalformed(view)

			c.logger.WithFields(logrus.Fields{
				"observed": view.Count,
				"quorum":   c.quorum,
			}).Debug("quorum poll")

			if view.Met {
				c.setState(QuorumMet)

				if err := c.publishWithRetry(ctx, c.publisher.PublishReadyNonAnchor); err != nil {
					return nil, common.NewFault(common.Transient, stageDiscovery, err)
				}
				c.setState(Ready)

				c.logger.WithFields(logrus.Fields{
					"node_id": c.record.NodeID,
					"peers":   len(view.Peers),
				}).Info("quorum met, node registered")

				return view.Peers, nil
			}
		}

		if !deadline.IsZero() && !c.clock.Now().Before(deadline) {
			return nil, common.NewFault(common.ResourceUnavailable, stageDiscovery,
				fmt.Errorf("quorum of %d not observed within %s", c.quorum, c.timeout))
		}

		select {
		case <-c.clock.After(c.pollInterval):
		case <-ctx.Done():
			return nil, common.NewFault(common.ResourceUnavailable, stageDiscovery, ctx.Err())
		}
	}
}

// observe lists the ready-anchor prefix and computes a fresh quorum view.
func (c *Coordinator) observe(ctx context.Context) (*QuorumView, error) {
	paths, err := c.store.List(ctx, ReadyAnchorPrefix(c.clusterID))
	if err != nil {
		return nil, err
	}

	objects := c.fetchObjects(ctx, paths)
	return ComputeQuorumView(objects, c.quorum, c.record.NodeID), nil
}

// fetchPrefix lists a prefix and fetches the objects, tolerating every
// error. Used on the anchor path where the peer set is best-effort.
func (c *Coordinator) fetchPrefix(ctx context.Context, prefix string) []RawObject {
	paths, err := c.store.List(ctx, prefix)
	if err != nil {
		c.logger.WithField("error", err).Warn("cannot list prefix")
		return nil
	}
	return c.fetchObjects(ctx, paths)
}

func (c *Coordinator) fetchObjects(ctx context.Context, paths []string) []RawObject {
	var objects []RawObject
	for _, path := range paths {
		data, err := c.store.Get(ctx, path)
		if err != nil {
			// A listed object can vanish or lag behind the listing; neither
			// may stall the poll.
			if !storage.IsNotFound(err) {
				c.logger.WithFields(logrus.Fields{
					"path":  path,
					"error": err,
				}).Warn("cannot fetch record, skipping")
			}
			continue
		}
		objects = append(objects, RawObject{Path: path, Data: data})
	}
	return objects
}

func (c *Coordinator) warnMalformed(view *QuorumView) {
	for _, path := range view.Malformed {
		c.logger.WithField("path", path).Warn("skipping malformed record")
	}
}

func (c *Coordinator) publishWithRetry(ctx context.Context, publish func(context.Context, *NodeRecord) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishRetries), ctx)
	return backoff.Retry(func() error {
		return publish(ctx, c.record)
	}, policy)
}

// MarkHealthy republishes an anchor under the ready prefix once the local
// node process has reported healthy. Readers distinguish "participating"
// from "confirmed healthy" anchors by these two disjoint prefixes. For
// non-anchor nodes there is nothing to promote, their record is already in
// its final prefix; only the healthy latch is recorded.
func (c *Coordinator) MarkHealthy(ctx context.Context) error {
	if c.record.NodeKind != Anchor {
		atomic.StoreUint32(&c.healthy, 1)
		return nil
	}
	if err := c.publishWithRetry(ctx, c.publisher.PublishReadyAnchor); err != nil {
		return err
	}
	atomic.StoreUint32(&c.healthy, 1)
	return nil
}

// Healthy reports whether MarkHealthy has run.
func (c *Coordinator) Healthy() bool {
	return atomic.LoadUint32(&c.healthy) == 1
}

// RunRepublisher refreshes this node's ready record on a fixed interval so
// peers can infer liveness from record age. It returns when ctx is
// cancelled. Failures are logged and retried on the next tick; liveness
// refresh is best-effort.
func (c *Coordinator) RunRepublisher(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-c.clock.After(interval):
			if err := c.refresh(ctx); err != nil {
				c.logger.WithField("error", err).Warn("cannot refresh node record")
			}
		case <-ctx.Done():
			return
		}
	}
}

// refresh re-stamps the node's current record. An anchor whose node process
// has not yet reported healthy refreshes its bootstrapping record only; the
// ready prefix is reserved for confirmed-healthy anchors because quorum
// counting reads it.
func (c *Coordinator) refresh(ctx context.Context) error {
	if c.record.NodeKind == Anchor && !c.Healthy() {
		return c.publisher.PublishBootstrappingAnchor(ctx, c.record)
	}
	return c.publisher.Republish(ctx, c.record)
}
