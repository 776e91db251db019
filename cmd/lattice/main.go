package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lattice-dev/lattice"
	"github.com/lattice-dev/lattice/config"
	"github.com/lattice-dev/lattice/internal/meta"
	"github.com/lattice-dev/lattice/internal/scan"
)

var (
	flagConfig string
	flagFormat = "text"
	flagDriver string
	flagDBPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "lattice",
	Short:         "Incremental, content-addressed code intelligence",
	Long:          "Lattice indexes source code with tree-sitter and keeps a cross-file relationship graph up to date as files change.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "", "storage driver override: memory|sqlite|badger|bolt")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "storage path override")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "lattice.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

// loadConfig builds the effective configuration for a command run.
func loadConfig(args []string) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if len(args) > 0 {
		cfg.Root = args[0]
	}
	if flagDriver != "" {
		cfg.Storage.Driver = flagDriver
	}
	if flagDBPath != "" {
		cfg.Storage.Path = flagDBPath
	}
	return cfg, nil
}

func newEngine(args []string) (*lattice.Engine, config.Config, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, cfg, err
	}
	e, err := lattice.New(cfg)
	if err != nil {
		return nil, cfg, err
	}
	return e, cfg, nil
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository",
	Long:  "Scans the tree, parses supported source files, and builds the relationship graph. Unchanged files are skipped by fingerprint.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

const indexChunkSize = 64

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	e, cfg, err := newEngine(args)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	scanner := scan.New(cfg.Root, scan.Options{Include: cfg.Scan.Include, Exclude: cfg.Scan.Exclude}, nil)
	paths, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("indexing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	total := lattice.ApplyResult{}
	for i := 0; i < len(paths); i += indexChunkSize {
		end := min(i+indexChunkSize, len(paths))
		res, err := e.IndexPaths(ctx, paths[i:end])
		if res != nil {
			total.Updated += res.Updated
			total.Unchanged += res.Unchanged
			total.Removed += res.Removed
			total.Degraded += res.Degraded
			total.Errors = append(total.Errors, res.Errors...)
		}
		if err != nil && res == nil {
			return err
		}
		bar.Add(end - i)
	}
	bar.Finish()

	return outputIndexResult(&total, e.Stats(), time.Since(start))
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a repository and keep it current",
	Long:  "Runs a full index, then applies debounced filesystem changes until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, _, err := newEngine(args)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := e.IndexAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initial index finished with errors: %s\n", err)
	}
	fmt.Fprintln(os.Stderr, "watching for changes (ctrl-c to stop)")
	return e.Watch(ctx)
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the index",
}

func init() {
	queryCmd.AddCommand(&cobra.Command{
		Use:   "symbol NAME [path]",
		Short: "Find definitions of a symbol",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := indexedEngine(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			defer e.Close()
			return outputSymbols(args[0], e.FindSymbol(args[0]))
		},
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "deps IDENTITY [path]",
		Short: "List files depending on an identity",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := indexedEngine(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			defer e.Close()
			deps, err := e.DependentsOf(cmd.Context(), meta.Identity(args[0]))
			if err != nil {
				return err
			}
			return outputIdentities("dependents", deps)
		},
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "edges IDENTITY [path]",
		Short: "List an identity's outgoing relationship edges",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := indexedEngine(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			defer e.Close()
			return outputEdges(args[0], e.EdgesFrom(meta.Identity(args[0])))
		},
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats [path]",
	Short: "Show index statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := indexedEngine(cmd.Context(), args)
		if err != nil {
			return err
		}
		defer e.Close()
		return outputStats(e.Stats())
	},
}

// indexedEngine builds an engine and runs a full index so queries answer
// against the current tree.
func indexedEngine(ctx context.Context, args []string) (*lattice.Engine, error) {
	e, _, err := newEngine(args)
	if err != nil {
		return nil, err
	}
	if _, err := e.IndexAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "index finished with errors: %s\n", err)
	}
	return e, nil
}
