// Package events appends operational events to the object store for fleet
// tooling. The event log is write-only from the agent's perspective and
// strictly best-effort: a node must never fail to boot because its
// diagnostics could not be written.
package events

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"github.com/rimechain/rime/src/storage"
)

// Event is one operational record: a boot stage transition or a terminal
// failure.
type Event struct {
	NodeID string `codec:"node_id"`
	Stage  string `codec:"stage"`
	Type   string `codec:"type"`
	Detail string `codec:"detail,omitempty"`
	At     int64  `codec:"at"`
}

// Recorder writes events under {cluster}/events/. Each event lands at a
// timestamped key, so the history is append-only.
type Recorder struct {
	store     storage.Store
	clusterID string
	nodeID    string

	handle codec.CborHandle

	clock  clockwork.Clock
	logger *logrus.Entry
}

// NewRecorder ...
func NewRecorder(store storage.Store, clusterID, nodeID string, clock clockwork.Clock, logger *logrus.Entry) *Recorder {
	return &Recorder{
		store:     store,
		clusterID: clusterID,
		nodeID:    nodeID,
		clock:     clock,
		logger:    logger,
	}
}

// SetNodeID fills in the node identity once it has been provisioned. Events
// recorded earlier carry the machine's provisional identity instead.
func (r *Recorder) SetNodeID(nodeID string) {
	r.nodeID = nodeID
}

// Record appends one event. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, stage, eventType, detail string) {
	now := r.clock.Now()

	event := Event{
		NodeID: r.nodeID,
		Stage:  stage,
		Type:   eventType,
		Detail: detail,
		At:     now.Unix(),
	}

	var data []byte
	if err := codec.NewEncoderBytes(&data, &r.handle).Encode(event); err != nil {
		r.logger.WithField("error", err).Warn("cannot encode event")
		return
	}

	path := fmt.Sprintf("%s/events/%d-%s-%s", r.clusterID, now.UnixNano(), r.nodeID, eventType)
	if err := r.store.Put(ctx, path, data); err != nil {
		r.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Warn("cannot record event")
	}
}

// Decode parses an event as written by Record, for tests and tooling.
func Decode(data []byte) (*Event, error) {
	var handle codec.CborHandle
	var event Event
	if err := codec.NewDecoderBytes(data, &handle).Decode(&event); err != nil {
		return nil, err
	}
	return &event, nil
}
