package discovery

import "sort"

// RawObject is one listed object and its contents, as fetched from the
// store.
type RawObject struct {
	Path string
	Data []byte
}

// QuorumView is the set of anchor records visible at one poll tick. It is
// derived, never stored; every poll computes a fresh one.
type QuorumView struct {
	// Count is the number of distinct anchor node IDs observed, including
	// the local node if it is among them.
	Count int
	// Met reports whether Count reached the threshold.
	Met bool
	// Peers is the deterministically ordered peer set, with the local node
	// excluded.
	Peers []*Peer
	// Malformed lists the paths of records that failed to parse and were
	// skipped.
	Malformed []string
}

// ComputeQuorumView reduces one listing of anchor records to a readiness
// decision. It is a pure function, kept separate from the polling loop so it
// can be tested without time.
//
// Duplicate node IDs (republish after a crash-restart) collapse to the entry
// with the newest published_at. Malformed records are skipped, not fatal: one
// corrupt record must not block quorum convergence for the whole cluster.
// Peers are ordered by node ID so the resolved list never flaps with the
// store's listing order.
func ComputeQuorumView(objects []RawObject, threshold int, selfID string) *QuorumView {
	view := &QuorumView{}

	newest := make(map[string]*NodeRecord)
	for _, obj := range objects {
		record, err := ParseNodeRecord(obj.Data)
		if err != nil {
			view.Malformed = append(view.Malformed, obj.Path)
			continue
		}

		if prev, ok := newest[record.NodeID]; !ok || record.PublishedAt > prev.PublishedAt {
			newest[record.NodeID] = record
		}
	}

	view.Count = len(newest)
	view.Met = view.Count >= threshold

	ids := make([]string, 0, len(newest))
	for id := range newest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if id == selfID {
			continue
		}
		view.Peers = append(view.Peers, &Peer{
			NodeID:  id,
			NetAddr: newest[id].NetAddr,
		})
	}

	return view
}
