// Package metadata resolves the identity of the machine the agent runs on.
// On EC2 this comes from the instance metadata service; tests and local
// deployments use a static source instead.
package metadata

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// Source exposes the subset of instance metadata the agent needs.
type Source interface {
	// InstanceID returns the provider-assigned machine identifier.
	InstanceID(ctx context.Context) (string, error)

	// PrivateIP returns the machine's primary private address.
	PrivateIP(ctx context.Context) (string, error)

	// Tag returns the value of an instance tag, or an empty string when
	// the tag is absent.
	Tag(ctx context.Context, key string) (string, error)
}

// IMDSAPI is the subset of the EC2 instance metadata client used here.
type IMDSAPI interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// IMDSSource reads identity from the EC2 instance metadata service.
type IMDSSource struct {
	client IMDSAPI
}

// NewIMDSSource ...
func NewIMDSSource(client IMDSAPI) *IMDSSource {
	return &IMDSSource{client: client}
}

// InstanceID implements Source.
func (s *IMDSSource) InstanceID(ctx context.Context) (string, error) {
	return s.fetch(ctx, "instance-id")
}

// PrivateIP implements Source.
func (s *IMDSSource) PrivateIP(ctx context.Context) (string, error) {
	return s.fetch(ctx, "local-ipv4")
}

// Tag implements Source. Requires instance-metadata-tags to be enabled on
// the instance.
func (s *IMDSSource) Tag(ctx context.Context, key string) (string, error) {
	value, err := s.fetch(ctx, "tags/instance/"+key)
	if err != nil {
		// A missing tag surfaces as a 404 from the metadata service.
		if strings.Contains(err.Error(), "404") || strings.Contains(err.Error(), "not found") {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *IMDSSource) fetch(ctx context.Context, path string) (string, error) {
	out, err := s.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", path, err)
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// StaticSource serves fixed values. Used by tests and by deployments that
// pass identity through configuration instead of a metadata service.
type StaticSource struct {
	ID   string
	IP   string
	Tags map[string]string
}

// InstanceID implements Source.
func (s *StaticSource) InstanceID(ctx context.Context) (string, error) {
	if s.ID == "" {
		return "", fmt.Errorf("no instance id configured")
	}
	return s.ID, nil
}

// PrivateIP implements Source.
func (s *StaticSource) PrivateIP(ctx context.Context) (string, error) {
	if s.IP == "" {
		return "", fmt.Errorf("no private ip configured")
	}
	return s.IP, nil
}

// Tag implements Source.
func (s *StaticSource) Tag(ctx context.Context, key string) (string, error) {
	return s.Tags[key], nil
}
