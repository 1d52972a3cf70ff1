package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/ir"
	"weft/internal/resolve"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve and type-check every flow without executing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, flows, err := loadAll()
		if err != nil {
			return err
		}
		for _, flow := range flows {
			flowIR, err := buildIR(rt, flow)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d transforms, hash %s\n",
				flow.Name, len(flowIR.Nodes), flowIR.Hash())
		}
		return nil
	},
}

func init() { rootCmd.AddCommand(validateCmd) }

func loadAll() (config.Runtime, []config.Flow, error) {
	rt, err := config.LoadRuntime(cfgPath)
	if err != nil {
		return rt, nil, err
	}
	dir := rt.FlowsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(cfgPath), dir)
	}
	flows, err := config.LoadFlows(dir)
	return rt, flows, err
}

func buildIR(rt config.Runtime, flow config.Flow) (*ir.FlowIR, error) {
	steps, err := resolve.Expand(flow.Name, flow.Transforms, rt.Library(), resolve.Context(rt.Vars))
	if err != nil {
		return nil, err
	}
	return ir.Build(flow.Name, steps)
}
