package discovery

import "fmt"

// Object store layout. These prefixes are a stable contract shared with
// fleet tooling; changing them orphans every running cluster.
const (
	bootstrappingAnchorPrefix = "discover/bootstrapping-anchor-nodes/"
	readyAnchorPrefix         = "discover/ready-anchor-nodes/"
	readyNonAnchorPrefix      = "discover/ready-non-anchor-nodes/"
)

// BootstrappingAnchorPrefix returns the prefix under which anchor nodes
// publish before their node process is healthy.
func BootstrappingAnchorPrefix(clusterID string) string {
	return fmt.Sprintf("%s/%s", clusterID, bootstrappingAnchorPrefix)
}

// ReadyAnchorPrefix returns the prefix that quorum counting reads. Only
// records under this prefix count towards quorum; anchors that crashed
// before turning healthy stay under the bootstrapping prefix and are
// ignored.
func ReadyAnchorPrefix(clusterID string) string {
	return fmt.Sprintf("%s/%s", clusterID, readyAnchorPrefix)
}

// ReadyNonAnchorPrefix returns the prefix under which non-anchor nodes
// publish once they have passed quorum.
func ReadyNonAnchorPrefix(clusterID string) string {
	return fmt.Sprintf("%s/%s", clusterID, readyNonAnchorPrefix)
}
