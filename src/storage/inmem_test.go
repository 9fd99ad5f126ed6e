package storage

import (
	"bytes"
	"context"
	"reflect"
	"testing"
)

func TestInmemStorePutGet(t *testing.T) {
	store := NewInmemStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "a/b"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	if err := store.Put(ctx, "a/b", []byte("hello")); err != nil {
		t.Fatalf("err: %v", err)
	}

	data, err := store.Get(ctx, "a/b")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("got %q", data)
	}
}

func TestInmemStoreOverwrite(t *testing.T) {
	store := NewInmemStore()
	ctx := context.Background()

	// Publishing twice at the same key must leave a single object. The whole
	// coordination protocol rests on this.
	if err := store.Put(ctx, "c/discover/x", []byte("one")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := store.Put(ctx, "c/discover/x", []byte("two")); err != nil {
		t.Fatalf("err: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("expected 1 object, got %d", store.Len())
	}

	data, err := store.Get(ctx, "c/discover/x")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("got %q", data)
	}
}

func TestInmemStoreList(t *testing.T) {
	store := NewInmemStore()
	ctx := context.Background()

	paths := []string{
		"c/discover/ready-anchor-nodes/n2",
		"c/discover/ready-anchor-nodes/n1",
		"c/discover/bootstrapping-anchor-nodes/n3",
	}
	for _, p := range paths {
		if err := store.Put(ctx, p, []byte("{}")); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	keys, err := store.List(ctx, "c/discover/ready-anchor-nodes/")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	expected := []string{
		"c/discover/ready-anchor-nodes/n1",
		"c/discover/ready-anchor-nodes/n2",
	}
	if !reflect.DeepEqual(keys, expected) {
		t.Fatalf("got %v, expected %v", keys, expected)
	}
}
