package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timzifer/vfunc/config"
	"github.com/timzifer/vfunc/processor"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "vfunc",
		Short:        "Run formula-driven function graphs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "graph.yaml", "Path to the graph document or directory")

	root.AddCommand(newRunCmd(&cfgPath), newCheckCmd(&cfgPath), newEvalCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Invoke the graph every cycle until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			proc, err := processor.New(ctx, processor.WithConfigPath(*cfgPath, nil))
			if err != nil {
				return err
			}
			defer proc.Close()

			if once {
				ok, err := proc.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "completed: %t\n", ok)
				printGlobals(cmd.OutOrStdout(), proc.Globals())
				return nil
			}

			log.Info().Str("config", *cfgPath).Dur("cycle", proc.Config().CycleInterval()).Msg("graph running")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Invoke the graph once, print the globals and exit")
	return cmd
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the graph document and build the graph without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			proc, err := processor.New(cmd.Context(), processor.WithConfig(cfg), processor.WithLogger(zerolog.Nop()))
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			defer proc.Close()
			printReport(cmd.OutOrStdout(), cfg, proc.Graph().Len())
			return nil
		},
	}
}

func newEvalCmd(cfgPath *string) *cobra.Command {
	var invoke bool
	cmd := &cobra.Command{
		Use:   "eval FORMULA",
		Short: "Evaluate a formula against the graph globals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			proc, err := processor.New(cmd.Context(), processor.WithConfig(cfg), processor.WithLogger(zerolog.Nop()))
			if err != nil {
				return err
			}
			defer proc.Close()

			if invoke {
				if _, err := proc.RunOnce(cmd.Context()); err != nil {
					return err
				}
			}
			g := proc.Graph()
			results, err := g.Session().Engine().Evaluate("eval", args[0], g.Globals().Variables())
			if err != nil {
				return err
			}
			for i, result := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %v\n", i, result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&invoke, "invoke", false, "Invoke the graph once before evaluating")
	return cmd
}

func printGlobals(out io.Writer, globals map[string]any) {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s = %v\n", name, globals[name])
	}
}

func printReport(out io.Writer, cfg *config.Config, nodes int) {
	label := cfg.Name
	if label == "" {
		label = "<unnamed>"
	}
	fmt.Fprintf(out, "Graph %q\n", label)
	fmt.Fprintf(out, "  Globals: %d\n", len(cfg.Globals))
	fmt.Fprintf(out, "  Nodes: %d\n", nodes)
	for _, fn := range cfg.Functions {
		line := fn.Kind
		if fn.Name != "" {
			line = fmt.Sprintf("%s %q", fn.Kind, fn.Name)
		}
		if fn.Disabled {
			line += " (disabled)"
		}
		if module := describeModule(fn.Source); module != "" {
			line += " from " + module
		}
		fmt.Fprintf(out, "    - %s\n", line)
	}
	fmt.Fprintln(out, "Configuration check completed successfully.")
}

func describeModule(ref config.ModuleReference) string {
	name := strings.TrimSpace(ref.Name)
	file := strings.TrimSpace(ref.File)
	desc := strings.TrimSpace(ref.Description)

	label := ""
	if name != "" && file != "" {
		label = fmt.Sprintf("%s (%s)", name, file)
	} else if name != "" {
		label = name
	} else if file != "" {
		label = file
	}
	if desc != "" {
		if label != "" {
			label = fmt.Sprintf("%s: %s", label, desc)
		} else {
			label = desc
		}
	}
	return label
}
