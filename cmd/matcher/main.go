// Package main is the matcher CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/cli"
	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/internal/server"
	"github.com/referwell/matcher/internal/watcher"
	"github.com/referwell/matcher/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/matcher/config.yaml"

type rootOptions struct {
	configPath string
	debug      bool
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence if it exists, so running from a
// project checkout picks up the project's config. Returns the config and the
// path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "matcher",
		Short:         "Referral to clinician matching",
		Long:          `Matches patient referrals to clinicians: feasibility filtering, hybrid retrieval, reranking, calibration and routing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServerCmd(opts))
	rootCmd.AddCommand(newMatchCmd(opts))
	rootCmd.AddCommand(newReindexCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// setup loads the config, builds the logger and initializes the components.
func setup(ctx context.Context, opts *rootOptions) (*config.Config, *zap.Logger, *Components, error) {
	cfg, resolvedPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Debug = cfg.Debug || opts.debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("config loaded", zap.String("config_path", resolvedPath), zap.Bool("debug", cfg.Debug))

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return cfg, logger, components, nil
}

func newServerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			cfg, logger, components, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer components.Close()

			if cfg.Matching.Calibration.Watch {
				w, err := watcher.WatchCalibration(ctx, components.Registry, logger)
				if err != nil {
					return fmt.Errorf("failed to watch calibration artifact: %w", err)
				}
				if w != nil {
					defer w.Stop()
				}
			}

			srv := server.NewServer(
				components.Engine,
				components.Indexer,
				components.Snapshot,
				components.Catalogue,
				components.Audit,
				components.Cache,
				&cfg.Server,
				logger,
			)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			select {
			case <-sigChan:
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}

			logger.Info("Shutting down...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

type matchOptions struct {
	referralPath string
	candidateIDs []string
	format       string
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	mo := &matchOptions{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one referral against the catalogue",
		Example: `  matcher match --referral referral.json
  matcher match --referral - --format json < referral.json
  matcher match --referral referral.json --candidate-id c1 --candidate-id c7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(mo.format)
			if err != nil {
				return err
			}
			var ref models.Referral
			if err := readJSON(mo.referralPath, cmd.InOrStdin(), &ref); err != nil {
				return fmt.Errorf("failed to read referral: %w", err)
			}

			_, logger, components, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer components.Close()

			pool := components.Snapshot.Current()
			candidates := pool.Candidates
			if len(mo.candidateIDs) > 0 {
				candidates = make([]*models.CandidateProfile, 0, len(mo.candidateIDs))
				for _, id := range mo.candidateIDs {
					c, ok := pool.Get(id)
					if !ok {
						return fmt.Errorf("unknown candidate: %s", id)
					}
					candidates = append(candidates, c)
				}
			}
			result, err := components.Engine.Match(cmd.Context(), &ref, candidates)
			if err != nil {
				return err
			}
			return cli.WriteMatchResult(cmd.OutOrStdout(), result, format)
		},
	}
	cmd.Flags().StringVar(&mo.referralPath, "referral", "-", "referral JSON file (- for stdin)")
	cmd.Flags().StringSliceVar(&mo.candidateIDs, "candidate-id", nil, "restrict the pool to these candidates (repeatable)")
	cmd.Flags().StringVar(&mo.format, "format", string(cli.OutputText), "output format: text or json")
	return cmd
}

type reindexOptions struct {
	batchSize   int
	force       bool
	candidateID string
	file        string
	format      string
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	ro := &reindexOptions{}
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Recompute candidate embeddings and lexical entries",
		Long: `Without flags, reindexes every stored candidate whose embedding is stale.
--file imports candidate profiles from a JSON array and indexes them.
--candidate-id reindexes a single stored candidate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(ro.format)
			if err != nil {
				return err
			}
			if ro.file != "" && ro.candidateID != "" {
				return errors.New("--file and --candidate-id are mutually exclusive")
			}
			var profiles []*models.CandidateProfile
			if ro.file != "" {
				if err := readJSON(ro.file, cmd.InOrStdin(), &profiles); err != nil {
					return fmt.Errorf("failed to read candidates: %w", err)
				}
			}

			ctx := cmd.Context()
			_, logger, components, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer components.Close()
			idx := components.Indexer

			if ro.candidateID != "" {
				out, err := idx.Refresh(ctx, ro.candidateID, ro.force)
				if err != nil {
					return err
				}
				stats := tally([]*indexer.Outcome{out}, 0)
				return cli.WriteReindexStats(cmd.OutOrStdout(), stats, format)
			}
			if ro.file != "" {
				outcomes := make([]*indexer.Outcome, 0, len(profiles))
				failed := 0
				for _, c := range profiles {
					out, err := idx.Reindex(ctx, c)
					if err != nil {
						logger.Warn("reindex failed", zap.String("candidate_id", c.ID), zap.Error(err))
						failed++
						continue
					}
					outcomes = append(outcomes, out)
				}
				return cli.WriteReindexStats(cmd.OutOrStdout(), tally(outcomes, failed), format)
			}

			stats, err := idx.ReindexAll(ctx, ro.batchSize, ro.force)
			if err != nil {
				return err
			}
			return cli.WriteReindexStats(cmd.OutOrStdout(), stats, format)
		},
	}
	cmd.Flags().IntVar(&ro.batchSize, "batch-size", 100, "candidates per embedding batch")
	cmd.Flags().BoolVar(&ro.force, "force", false, "recompute embeddings even when current")
	cmd.Flags().StringVar(&ro.candidateID, "candidate-id", "", "reindex a single stored candidate")
	cmd.Flags().StringVar(&ro.file, "file", "", "import candidate profiles from a JSON array file (- for stdin)")
	cmd.Flags().StringVar(&ro.format, "format", string(cli.OutputText), "output format: text or json")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "matcher version %s\n", version)
		},
	}
}
