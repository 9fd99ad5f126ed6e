package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for rimed
var RootCmd = &cobra.Command{
	Use:              "rimed",
	Short:            "rimed bootstrap agent",
	TraverseChildren: true,
	SilenceUsage:     true,
}

// ExitCode maps an error returned by a command to a process exit status.
// Faults carry a per-category code so fleet tooling can tell a transient
// crash from a misconfiguration.
func ExitCode(err error) int {
	var fault *common.Fault
	if errors.As(err, &fault) {
		return fault.Category().ExitCode()
	}
	return 1
}
