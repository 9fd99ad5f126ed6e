// Package discovery implements the leaderless bootstrap coordination
// protocol. Nodes rendezvous exclusively through the object store: every
// node overwrites its own record at a deterministic key, and non-anchor
// nodes poll the ready-anchor prefix until a quorum of anchors is visible.
// There is no lock and no consensus round; correctness comes from idempotent
// keys and threshold counting over an eventually-consistent listing.
package discovery

import (
	"encoding/json"
	"fmt"
)

// Kind says which cohort a node belongs to. Anchor nodes form the initial
// validator set; non-anchor nodes join only after observing a quorum of
// ready anchors. The set is closed: anything else fails to parse.
type Kind uint8

const (
	// Anchor ...
	Anchor Kind = iota
	// NonAnchor ...
	NonAnchor
)

// String ...
func (k Kind) String() string {
	switch k {
	case Anchor:
		return "anchor"
	case NonAnchor:
		return "non-anchor"
	default:
		return "unknown"
	}
}

// ParseKind converts the tag value supplied by the provisioning layer into a
// Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "anchor":
		return Anchor, nil
	case "non-anchor":
		return NonAnchor, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}

// MarshalJSON ...
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON ...
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NodeRecord is what a node publishes about itself. One record per node ID
// per network; republishing overwrites in place.
type NodeRecord struct {
	NodeID      string `json:"node_id"`
	NodeKind    Kind   `json:"node_kind"`
	NetworkID   uint32 `json:"network_id"`
	NetAddr     string `json:"network_address"`
	PublishedAt int64  `json:"published_at"`
}

// Validate checks the fields that the quorum computation depends on.
func (r *NodeRecord) Validate() error {
	if r.NodeID == "" {
		return fmt.Errorf("record has empty node_id")
	}
	if r.NetAddr == "" {
		return fmt.Errorf("record %s has empty network_address", r.NodeID)
	}
	return nil
}

// ParseNodeRecord decodes and validates a published record.
func ParseNodeRecord(data []byte) (*NodeRecord, error) {
	var r NodeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Bytes returns the wire form of the record.
func (r *NodeRecord) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// Peer is one entry of the resolved bootstrap peer set, handed to the node
// process supervisor.
type Peer struct {
	NodeID  string `json:"node_id"`
	NetAddr string `json:"network_address"`
}
