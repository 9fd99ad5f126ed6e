package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/storage"
)

func TestRecordAppendsEvents(t *testing.T) {
	store := storage.NewInmemStore()
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	logger := common.NewTestEntry(t, "events")

	recorder := NewRecorder(store, "fleet-1", "node1qtest", clock, logger)

	recorder.Record(context.Background(), "discovery", "quorum_met", "count=3")
	clock.Advance(time.Second)
	recorder.Record(context.Background(), "supervise", "node_started", "")

	paths, err := store.List(context.Background(), "fleet-1/events/")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 events, got %d", len(paths))
	}

	data, err := store.Get(context.Background(), paths[0])
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	event, err := Decode(data)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if event.Stage != "discovery" || event.Type != "quorum_met" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.At != 1700000000 {
		t.Fatalf("unexpected timestamp: %d", event.At)
	}
}

func TestRecordKeysAreOrdered(t *testing.T) {
	store := storage.NewInmemStore()
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	logger := common.NewTestEntry(t, "events")

	recorder := NewRecorder(store, "fleet-1", "node1qtest", clock, logger)

	recorder.Record(context.Background(), "volume", "mounted", "")
	clock.Advance(time.Minute)
	recorder.Record(context.Background(), "keys", "provisioned", "")

	paths, err := store.List(context.Background(), "fleet-1/events/")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 events, got %d", len(paths))
	}
	if !(paths[0] < paths[1]) {
		t.Fatalf("keys not ordered: %v", paths)
	}
	if !strings.HasSuffix(paths[0], "mounted") {
		t.Fatalf("unexpected first key: %s", paths[0])
	}
}

func TestRecordToleratesStoreFailure(t *testing.T) {
	logger := common.NewTestEntry(t, "events")
	recorder := NewRecorder(failingStore{}, "fleet-1", "node1qtest", clockwork.NewFakeClock(), logger)

	// Must not panic or block.
	recorder.Record(context.Background(), "discovery", "self_published", "")
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, path string, data []byte) error {
	return context.DeadlineExceeded
}

func (failingStore) Get(ctx context.Context, path string) ([]byte, error) {
	return nil, context.DeadlineExceeded
}

func (failingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, context.DeadlineExceeded
}
