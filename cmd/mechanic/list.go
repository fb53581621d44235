package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caffeineduck/mechanic/function"
	"github.com/spf13/cobra"
)

type functionInfo struct {
	Name       string   `json:"name"`
	Engine     string   `json:"engine"`
	UsesRandom bool     `json:"uses_random"`
	CanScale   bool     `json:"can_scale"`
	Params     []string `json:"params"`
	Presets    []string `json:"presets"`
}

func describe(reg *function.Registry) []functionInfo {
	var out []functionInfo
	for _, name := range reg.Names() {
		def, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, functionInfo{
			Name:       def.Name,
			Engine:     string(def.Settings.Engine),
			UsesRandom: def.Settings.UsesRandom,
			CanScale:   def.CanScale(),
			Params:     def.Params.Names(),
			Presets:    function.PresetNames(def),
		})
	}
	return out
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available design functions",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg, nil)
	if err != nil {
		return err
	}

	infos := describe(reg)
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	for _, info := range infos {
		flags := ""
		if info.UsesRandom {
			flags += " random"
		}
		if info.CanScale {
			flags += " scalable"
		}
		fmt.Fprintf(out, "%-16s %-8s%s\n", info.Name, info.Engine, flags)
		fmt.Fprintf(out, "  params:  %s\n", strings.Join(info.Params, ", "))
		fmt.Fprintf(out, "  presets: %s\n", strings.Join(info.Presets, ", "))
	}
	return nil
}
