package supervisor

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rimechain/rime/src/discovery"
)

// NodeConfig is the runtime configuration rendered for the node binary. The
// kebab-case keys mirror the binary's own flag names, so the same document
// works as a config file or as flags.
type NodeConfig struct {
	NetworkID    uint32 `json:"network-id"`
	DBDir        string `json:"db-dir"`
	StakingKey   string `json:"staking-key-file"`
	HTTPHost     string `json:"http-host"`
	PublicIP     string `json:"public-ip"`
	BootstrapIPs string `json:"bootstrap-ips"`
	BootstrapIDs string `json:"bootstrap-ids"`
}

// RenderNodeConfig assembles the node configuration from the resolved peer
// set and static parameters. The peer list arrives already ordered from the
// coordinator and is joined positionally: ips[i] and ids[i] describe the
// same peer, which the node binary requires.
func RenderNodeConfig(networkID uint32, dbDir, stakingKey, httpHost, publicIP string, peers []*discovery.Peer) *NodeConfig {
	ips := make([]string, 0, len(peers))
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ips = append(ips, p.NetAddr)
		ids = append(ids, p.NodeID)
	}

	return &NodeConfig{
		NetworkID:    networkID,
		DBDir:        dbDir,
		StakingKey:   stakingKey,
		HTTPHost:     httpHost,
		PublicIP:     publicIP,
		BootstrapIPs: strings.Join(ips, ","),
		BootstrapIDs: strings.Join(ids, ","),
	}
}

// WriteFile renders the configuration as JSON at path.
func (c *NodeConfig) WriteFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
