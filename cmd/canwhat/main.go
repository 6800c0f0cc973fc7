package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/config"
	"github.com/0xKirisame/canwhat/internal/datastore"
	"github.com/0xKirisame/canwhat/internal/emitter"
	"github.com/0xKirisame/canwhat/internal/generator"
	"github.com/0xKirisame/canwhat/internal/metrics"
	"github.com/0xKirisame/canwhat/internal/pipeline"
	"github.com/0xKirisame/canwhat/internal/server"
)

// contextKey is a private type to avoid key collisions in context.
type contextKey int

const (
	keyConfig contextKey = iota
	keyEngine
	keyCatalog
	keyMetrics
	keyLogger
	keyCacheCloser
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy to process exit codes.
func exitCodeFor(err error) int {
	switch err.(type) {
	case *pipeline.InvalidInputError:
		return 2
	case *pipeline.UpstreamFailure:
		return 3
	default:
		return 1
	}
}

// --- context helpers (safe type assertions) ---

func ctxConfig(ctx context.Context) (*config.Config, bool) {
	v, ok := ctx.Value(keyConfig).(*config.Config)
	return v, ok && v != nil
}

func ctxEngine(ctx context.Context) (*pipeline.Engine, bool) {
	v, ok := ctx.Value(keyEngine).(*pipeline.Engine)
	return v, ok && v != nil
}

func ctxCatalog(ctx context.Context) (*actioncatalog.Catalog, bool) {
	v, ok := ctx.Value(keyCatalog).(*actioncatalog.Catalog)
	return v, ok && v != nil
}

func ctxMetrics(ctx context.Context) (*metrics.Metrics, bool) {
	v, ok := ctx.Value(keyMetrics).(*metrics.Metrics)
	return v, ok && v != nil
}

func ctxLogger(ctx context.Context) (*slog.Logger, bool) {
	v, ok := ctx.Value(keyLogger).(*slog.Logger)
	return v, ok && v != nil
}

func ctxCache(ctx context.Context) (*datastore.CachingDataStore, bool) {
	v, ok := ctx.Value(keyCacheCloser).(*datastore.CachingDataStore)
	return v, ok && v != nil
}

// mustFromCtx is used in RunE handlers where PersistentPreRunE guarantees values are set.
// It panics only if there is a programming error (PersistentPreRunE was bypassed).
func mustFromCtx(cmd *cobra.Command) (*config.Config, *pipeline.Engine, *actioncatalog.Catalog, *metrics.Metrics, *slog.Logger) {
	ctx := cmd.Context()
	cfg, ok1 := ctxConfig(ctx)
	eng, ok2 := ctxEngine(ctx)
	cat, ok3 := ctxCatalog(ctx)
	m, ok4 := ctxMetrics(ctx)
	log, ok5 := ctxLogger(ctx)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		panic("BUG: context values not set — PersistentPreRunE must have been skipped")
	}
	return cfg, eng, cat, m, log
}

// --- Root command ---

func rootCmd() *cobra.Command {
	var cfgPath string
	var verbose bool

	root := &cobra.Command{
		Use:   "canwhat",
		Short: "Resolve an AWS IAM principal's effective permissions",
		Long: `canwhat combines a principal's identity policies, permission boundary,
and org-level SCPs/RCPs into one canonical effective-permission policy document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}

			log := newLogger(verbose)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			catalog, err := actioncatalog.Load(log)
			if err != nil {
				return fmt.Errorf("loading action catalog: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context(), awsconfig.WithRegion(cfg.AWS.Region))
			if err != nil {
				return fmt.Errorf("loading AWS config: %w", err)
			}
			awsStore := datastore.NewAWSDataStore(awsCfg, log)

			cache, err := datastore.OpenCache(cfg.Cache.Path, awsStore, cfg.Cache.TTL)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}

			m := metrics.New()
			engine := pipeline.NewEngine(cache, catalog, log, m)

			ctx := context.WithValue(cmd.Context(), keyConfig, cfg)
			ctx = context.WithValue(ctx, keyEngine, engine)
			ctx = context.WithValue(ctx, keyCatalog, catalog)
			ctx = context.WithValue(ctx, keyMetrics, m)
			ctx = context.WithValue(ctx, keyLogger, log)
			ctx = context.WithValue(ctx, keyCacheCloser, cache)
			cmd.SetContext(ctx)
			return nil
		},
	}

	defaultCfg := config.DefaultConfigPath()
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) logging")

	root.AddCommand(
		initCmd(),
		getCmd(),
		diffCmd(),
		serveCmd(),
	)

	return root
}

// --- init command ---

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Fprintf(os.Stderr, "Config already exists at %s\n", cfgPath)
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			cfg := config.DefaultConfig()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling default config: %w", err)
			}

			if err := os.WriteFile(cfgPath, data, 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			fmt.Printf("Created config at %s\n", cfgPath)
			fmt.Printf("Edit the file to configure your AWS region and cache path.\n")
			return nil
		},
	}
}

// --- get command ---

func getCmd() *cobra.Command {
	var shrink bool
	var outputFile string
	var format string

	cmd := &cobra.Command{
		Use:   "get <principal-arn>",
		Short: "Resolve one principal's effective permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, _, _, _ := mustFromCtx(cmd)
			if cache, ok := ctxCache(cmd.Context()); ok {
				defer cache.Close()
			}
			principal := args[0]

			doc, err := engine.CanWhat(cmd.Context(), pipeline.Options{
				Principal:         principal,
				ShrinkActionLists: shrink,
			})
			if err != nil {
				return err
			}

			return writeGenerated(principal, doc, format, outputFile)
		},
	}

	cmd.Flags().BoolVar(&shrink, "shrink", false, "collapse fully-covered service action lists to service:*")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "-", "output file ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, yaml, or terraform")
	return cmd
}

// --- diff command ---

func diffCmd() *cobra.Command {
	var op string
	var format string
	var outputFile string

	cmd := &cobra.Command{
		Use:   "diff <principal-a> <principal-b>",
		Short: "Combine two principals' effective permissions with a set operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, catalog, _, _ := mustFromCtx(cmd)
			if cache, ok := ctxCache(cmd.Context()); ok {
				defer cache.Close()
			}
			a, b := args[0], args[1]

			docA, err := engine.CanWhat(cmd.Context(), pipeline.Options{Principal: a})
			if err != nil {
				return err
			}
			docB, err := engine.CanWhat(cmd.Context(), pipeline.Options{Principal: b})
			if err != nil {
				return err
			}

			result, err := pipeline.Diff(docA, docB, pipeline.DiffOp(op), catalog)
			if err != nil {
				return err
			}

			return writeGenerated(fmt.Sprintf("%s-%s-%s", op, a, b), result, format, outputFile)
		},
	}

	cmd.Flags().StringVar(&op, "op", "union", "set operation: union, intersect, or subtract")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "-", "output file ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json, yaml, or terraform")
	return cmd
}

func writeGenerated(principal string, doc *emitter.PolicyDocument, format, outputFile string) error {
	gen, err := generator.New(format)
	if err != nil {
		return err
	}

	if outputFile == "" || outputFile == "-" {
		return gen.Generate(principal, doc, os.Stdout)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := gen.Generate(principal, doc, f); err != nil {
		return err
	}
	fmt.Printf("Output written to %s\n", outputFile)
	return nil
}

// --- serve command ---

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, catalog, m, log := mustFromCtx(cmd)
			if cache, ok := ctxCache(cmd.Context()); ok {
				defer cache.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			srv := server.New(cfg.HTTP.Endpoint, cfg.Metrics.Endpoint, engine, catalog, log, m)
			return srv.Start(ctx)
		},
	}
}

// --- helpers ---

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
