package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <function>",
		Short: "Export a design function once",
		Long: `Select a function, apply presets and values, and export it.

Values are given as name=value and applied after the preset. The artifact
is stored by the configured sink; --out additionally writes it to a file.`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}
	cmd.Flags().StringP("preset", "p", "", "Preset to apply")
	cmd.Flags().StringArrayP("set", "s", nil, "Parameter value name=value (repeatable)")
	cmd.Flags().StringP("out", "o", "", "Also write the artifact to this file")
	cmd.Flags().Duration("timeout", 30*time.Second, "Time to wait for the execution context")
	cmd.Flags().Bool("preview", false, "Preview first and export with the preview's seed")
	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	ctl := sess.ctl
	if err := ctl.SetAutoRefresh(ctx, false); err != nil {
		return err
	}
	if err := ctl.Select(ctx, args[0]); err != nil {
		if !errors.Is(err, engine.ErrEngineNotFound) {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if err := ctl.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", args[0], err)
	}

	def, _ := ctl.Function()
	if preset, _ := cmd.Flags().GetString("preset"); preset != "" {
		if err := ctl.OnParamChange(ctx, function.PresetKey, preset); err != nil {
			return err
		}
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	for _, s := range sets {
		name, raw, err := splitAssignment(s)
		if err != nil {
			return err
		}
		p, ok := def.Params.Lookup(name)
		if !ok {
			return fmt.Errorf("%s has no param %q", def.Name, name)
		}
		value, err := parseValue(p, raw)
		if err != nil {
			return err
		}
		if err := ctl.OnParamChange(ctx, name, value); err != nil {
			return err
		}
	}

	if first, _ := cmd.Flags().GetBool("preview"); first {
		if _, err := ctl.Preview(ctx); err != nil {
			return err
		}
	}

	handle, err := ctl.Export(ctx)
	if err != nil {
		return err
	}

	if msg := sess.surface.Message(); msg != "" {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		frame, ok := sess.surface.Frame()
		if !ok {
			return errors.New("nothing was rendered")
		}
		if err := os.WriteFile(out, frame.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	}

	printHandle(cmd.OutOrStdout(), handle)
	return nil
}
