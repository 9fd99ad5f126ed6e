package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/rimechain/rime/src/keys"
)

var (
	keyFile        string
	keyNetworkID   uint32
	defaultKeyFile = path.Join(_config.DataDir, "node.key")
)

// NewKeygenCmd produces a KeygenCmd which creates a node key and prints its
// derived addresses
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new node key",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyFile, "key", defaultKeyFile, "File where the private key will be written")
	cmd.Flags().Uint32Var(&keyNetworkID, "network-id", _config.NetworkID, "Network id used to derive addresses")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyFile); err == nil {
		return fmt.Errorf("a key already lives under: %s", keyFile)
	}

	if err := os.MkdirAll(path.Dir(keyFile), 0700); err != nil {
		return err
	}

	priv, err := keys.GenerateKey()
	if err != nil {
		return err
	}

	keyfile := keys.NewNodeKeyfile(keyFile)
	if err := keyfile.WriteKey(priv); err != nil {
		return err
	}

	bundle, err := keys.DeriveAddresses(&priv.PublicKey, keyNetworkID)
	if err != nil {
		return err
	}

	fmt.Println("Key written to:", keyFile)
	fmt.Println("NodeID:", bundle.NodeID)
	fmt.Println("X address:", bundle.XAddress)
	fmt.Println("P address:", bundle.PAddress)
	fmt.Println("C address:", bundle.CAddress)

	return nil
}
