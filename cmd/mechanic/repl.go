package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replHelp = `Commands:
  list                 List functions
  select <function>    Switch to a function
  set <param> <value>  Change a parameter
  preset <name>        Apply a preset
  presets              List presets of the current function
  values               Show current values
  preview              Render a preview with a fresh seed
  export               Export at full size with the last seed
  scale on|off         Toggle scale-to-fit
  auto on|off          Toggle auto-refresh
  status               Show controller state
  exit                 Quit`

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl [function]",
		Short: "Interactive editor session",
		Long: `Start an interactive session over one execution context at a time.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)

Type 'help' for commands, 'exit' or Ctrl+D to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.mechanic_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".mechanic_history")
	}

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

	r := &repl{app: a, sess: sess, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	ctx := cmd.Context()
	if len(args) == 1 {
		r.exec(ctx, "select "+args[0])
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      r.completer(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(r.errOut, "mechanic REPL (type 'help' for commands, Ctrl+D to exit)")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if r.exec(ctx, line) {
			return nil
		}
		rl.SetPrompt(r.prompt())
	}
}

// repl interprets editor commands against one session.
type repl struct {
	app    *app
	sess   *session
	out    io.Writer
	errOut io.Writer
}

func (r *repl) prompt() string {
	if def, ok := r.sess.ctl.Function(); ok {
		return def.Name + "> "
	}
	return "mechanic> "
}

func (r *repl) completer() readline.AutoCompleter {
	names := r.app.registry.Names()
	fnItems := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		fnItems[i] = readline.PcItem(name)
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("select", fnItems...),
		readline.PcItem("set"),
		readline.PcItem("preset"),
		readline.PcItem("presets"),
		readline.PcItem("values"),
		readline.PcItem("preview"),
		readline.PcItem("export"),
		readline.PcItem("scale", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("auto", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("status"),
		readline.PcItem("list"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// exec runs one command line and reports whether the session should end.
func (r *repl) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, rest := fields[0], fields[1:]
	var err error
	switch cmd {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "list":
		for _, info := range describe(r.app.registry) {
			fmt.Fprintf(r.out, "%-16s %s\n", info.Name, info.Engine)
		}
	case "select", "use":
		err = r.selectFunction(ctx, rest)
	case "set":
		err = r.set(ctx, rest)
	case "preset":
		if len(rest) != 1 {
			err = errors.New("usage: preset <name>")
			break
		}
		err = r.sess.ctl.OnParamChange(ctx, function.PresetKey, rest[0])
	case "presets":
		fmt.Fprintln(r.out, strings.Join(r.sess.ctl.PresetNames(), ", "))
	case "values":
		r.printValues()
	case "preview":
		var h function.RunHandle
		if h, err = r.sess.ctl.Preview(ctx); err == nil {
			r.report(h)
		}
	case "export":
		var h function.RunHandle
		if h, err = r.sess.ctl.Export(ctx); err == nil {
			r.report(h)
		}
	case "scale":
		var on bool
		if on, err = parseToggle(rest); err == nil {
			err = r.sess.ctl.SetScaleToFit(ctx, on)
		}
	case "auto":
		var on bool
		if on, err = parseToggle(rest); err == nil {
			err = r.sess.ctl.SetAutoRefresh(ctx, on)
		}
	case "status":
		r.status()
	default:
		err = fmt.Errorf("unknown command %q (type 'help')", cmd)
	}

	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
	return false
}

func (r *repl) selectFunction(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: select <function>")
	}
	err := r.sess.ctl.Select(ctx, args[0])
	if err != nil && !errors.Is(err, engine.ErrEngineNotFound) {
		return err
	}
	if err := r.sess.ctl.WaitReady(ctx); err != nil {
		return err
	}
	if msg := r.sess.surface.Message(); msg != "" {
		fmt.Fprintln(r.out, msg)
	} else if h, ok := r.sess.ctl.LastHandle(); ok {
		r.report(h)
	}
	return nil
}

func (r *repl) set(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <param> <value>")
	}
	def, ok := r.sess.ctl.Function()
	if !ok {
		return errors.New("no function selected")
	}
	p, ok := def.Params.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%s has no param %q", def.Name, args[0])
	}
	value, err := parseValue(p, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return r.sess.ctl.OnParamChange(ctx, args[0], value)
}

func (r *repl) printValues() {
	values := r.sess.ctl.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.out, "%s = %v\n", k, values[k])
	}
}

func (r *repl) status() {
	ctl := r.sess.ctl
	def, ok := ctl.Function()
	if !ok {
		fmt.Fprintln(r.out, "no function selected")
		return
	}
	fmt.Fprintf(r.out, "function:     %s (%s)\n", def.Name, def.Settings.Engine)
	fmt.Fprintf(r.out, "ready:        %v\n", ctl.Ready())
	fmt.Fprintf(r.out, "auto-refresh: %v\n", ctl.AutoRefresh())
	fmt.Fprintf(r.out, "scale-to-fit: %v\n", ctl.ScaleToFit())
	if !ctl.CanScale() {
		fmt.Fprintln(r.out, "  (declare width and height params to scale previews)")
	}
	if h, ok := ctl.LastHandle(); ok {
		if seed, ok := h.Seed(); ok {
			fmt.Fprintf(r.out, "seed:         %s\n", seed)
		}
	}
}

func (r *repl) report(h function.RunHandle) {
	if msg := r.sess.surface.Message(); msg != "" {
		fmt.Fprintln(r.out, msg)
		return
	}
	if frame, ok := r.sess.surface.Frame(); ok {
		fmt.Fprintf(r.out, "rendered %dx%d %s\n", frame.Width, frame.Height, frame.ContentType)
	}
	printHandle(r.out, h)
}

func printHandle(w io.Writer, h function.RunHandle) {
	if seed, ok := h.Seed(); ok {
		fmt.Fprintf(w, "seed: %s\n", seed)
	}
	if h.Location != "" {
		fmt.Fprintf(w, "saved: %s\n", h.Location)
	}
}

func parseToggle(args []string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, errors.New("expected on or off")
}
