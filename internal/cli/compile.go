package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"weft/internal/diag"
	"weft/internal/sandbox"
)

var printSource bool

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Lower every compilable flow to a sandbox module and cache it",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, flows, err := loadAll()
		if err != nil {
			return err
		}
		store := sandbox.NewMemStore()
		if rt.Runtime.CachePath != "" {
			store, err = sandbox.OpenSQLiteStore(rt.Runtime.CachePath)
			if err != nil {
				return err
			}
		}
		defer store.Close()
		compiler := sandbox.NewCompiler(store)

		for _, flow := range flows {
			flowIR, err := buildIR(rt, flow)
			if err != nil {
				return err
			}
			mod, err := compiler.Compile(flowIR)
			if err != nil {
				var ce *diag.CompileError
				if errors.As(err, &ce) && ce.Position >= 0 {
					fmt.Printf("%s: skipped (%s)\n", flow.Name, ce.Message)
					continue
				}
				return err
			}
			fmt.Printf("%s: module %s (%d bytes, %s)\n",
				flow.Name, mod.Hash, len(mod.Source), mod.Version)
			if printSource {
				fmt.Println(string(mod.Source))
			}
		}
		return nil
	},
}

func init() {
	compileCmd.Flags().BoolVar(&printSource, "print-source", false,
		"dump the generated module source")
	rootCmd.AddCommand(compileCmd)
}
