package metadata

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

type fakeIMDS struct {
	values map[string]string
}

func (f *fakeIMDS) GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error) {
	value, ok := f.values[params.Path]
	if !ok {
		return nil, fmt.Errorf("StatusCode: 404, request to EC2 IMDS failed")
	}
	return &imds.GetMetadataOutput{
		Content: io.NopCloser(strings.NewReader(value)),
	}, nil
}

func TestIMDSSource(t *testing.T) {
	source := NewIMDSSource(&fakeIMDS{
		values: map[string]string{
			"instance-id":             "i-0abc123\n",
			"local-ipv4":              "10.0.1.5",
			"tags/instance/node-kind": "anchor",
		},
	})

	id, err := source.InstanceID(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if id != "i-0abc123" {
		t.Fatalf("unexpected instance id: %q", id)
	}

	ip, err := source.PrivateIP(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ip != "10.0.1.5" {
		t.Fatalf("unexpected ip: %q", ip)
	}

	kind, err := source.Tag(context.Background(), "node-kind")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if kind != "anchor" {
		t.Fatalf("unexpected tag: %q", kind)
	}
}

func TestIMDSSourceMissingTag(t *testing.T) {
	source := NewIMDSSource(&fakeIMDS{values: map[string]string{}})

	value, err := source.Tag(context.Background(), "node-kind")
	if err != nil {
		t.Fatalf("missing tag should not error, got: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestStaticSource(t *testing.T) {
	source := &StaticSource{
		ID:   "machine-1",
		IP:   "192.168.0.2",
		Tags: map[string]string{"cluster": "fleet-1"},
	}

	id, err := source.InstanceID(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if id != "machine-1" {
		t.Fatalf("unexpected id: %q", id)
	}

	tag, err := source.Tag(context.Background(), "cluster")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if tag != "fleet-1" {
		t.Fatalf("unexpected tag: %q", tag)
	}

	empty := &StaticSource{}
	if _, err := empty.InstanceID(context.Background()); err == nil {
		t.Fatal("expected error for unconfigured source")
	}
}
