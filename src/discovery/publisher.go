package discovery

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rimechain/rime/src/storage"
)

// Publisher writes this node's record to the discovery prefixes. Each write
// lands at prefix + node ID, so republishing is an idempotent overwrite.
type Publisher struct {
	store     storage.Store
	clusterID string
	clock     clockwork.Clock
	logger    *logrus.Entry
}

// NewPublisher ...
func NewPublisher(store storage.Store, clusterID string, clock clockwork.Clock, logger *logrus.Entry) *Publisher {
	return &Publisher{
		store:     store,
		clusterID: clusterID,
		clock:     clock,
		logger:    logger,
	}
}

// PublishBootstrappingAnchor announces an anchor that is participating but
// not yet confirmed healthy.
func (p *Publisher) PublishBootstrappingAnchor(ctx context.Context, record *NodeRecord) error {
	return p.publish(ctx, BootstrappingAnchorPrefix(p.clusterID), record)
}

// PublishReadyAnchor announces an anchor whose node process has reported
// healthy. Quorum counting reads this prefix only.
func (p *Publisher) PublishReadyAnchor(ctx context.Context, record *NodeRecord) error {
	return p.publish(ctx, ReadyAnchorPrefix(p.clusterID), record)
}

// PublishReadyNonAnchor announces a non-anchor node that has passed quorum.
func (p *Publisher) PublishReadyNonAnchor(ctx context.Context, record *NodeRecord) error {
	return p.publish(ctx, ReadyNonAnchorPrefix(p.clusterID), record)
}

// Republish refreshes the node's ready record in place, bumping
// published_at so peers can infer liveness from record age.
func (p *Publisher) Republish(ctx context.Context, record *NodeRecord) error {
	switch record.NodeKind {
	case Anchor:
		return p.PublishReadyAnchor(ctx, record)
	case NonAnchor:
		return p.PublishReadyNonAnchor(ctx, record)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, prefix string, record *NodeRecord) error {
	// Stamp a copy. The caller's record is shared between the republisher
	// and the supervisor's health goroutine.
	stamped := *record
	stamped.PublishedAt = p.clock.Now().Unix()

	data, err := stamped.Bytes()
	if err != nil {
		return err
	}

	path := prefix + stamped.NodeID
	if err := p.store.Put(ctx, path, data); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"path":         path,
		"published_at": stamped.PublishedAt,
	}).Debug("published node record")

	return nil
}
