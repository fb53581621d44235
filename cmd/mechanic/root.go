package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caffeineduck/mechanic/config"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mechanic",
		Short: "Interactive editor for parametric design functions",
		Long: `mechanic - Preview and export parametric design functions.

Design functions are built in or declared in HCL files. Each one is bound
to a rendering engine (canvas, vector or wasm) and runs in its own
execution context. Previews are scaled to fit the viewport; exports are
rendered at full size and stored by the configured sink.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Config file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text, json")
	root.PersistentFlags().StringSlice("functions", nil, "HCL function file or directory (repeatable)")
	root.PersistentFlags().Bool("no-store", false, "Do not restore or persist parameter values")

	root.AddCommand(newListCmd(), newRenderCmd(), newReplCmd(), newServeCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	extra, _ := cmd.Flags().GetStringSlice("functions")
	cfg.Functions = append(cfg.Functions, extra...)
	if noStore, _ := cmd.Flags().GetBool("no-store"); noStore {
		cfg.Store.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return newApp(cmd.Context(), cfg, logger)
}

// parseValue converts raw command-line text according to the param type.
func parseValue(p function.Param, raw string) (any, error) {
	switch p.Type {
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", p.Name, raw)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", p.Name, raw)
		}
		return b, nil
	case "":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// splitAssignment splits "name=value".
func splitAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid assignment %q (expected name=value)", s)
	}
	return name, value, nil
}
