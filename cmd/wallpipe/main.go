package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wallpipe/internal/analyze"
	"wallpipe/internal/api"
	"wallpipe/internal/config"
	"wallpipe/internal/domain"
	"wallpipe/internal/download"
	"wallpipe/internal/monitoring"
	"wallpipe/internal/pipeline"
	"wallpipe/internal/scraper"
	"wallpipe/internal/store"
	"wallpipe/internal/upload"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wallpipe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "wallpipe",
		Short:        "Scrape wallpapers, enrich metadata and manage uploads",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pipeline.config.yaml", "Path to pipeline config")
	cmd.AddCommand(
		newRunCmd(),
		newUploadCmd(),
		newServeCmd(),
	)
	return cmd
}

func newRunCmd() *cobra.Command {
	var targets string
	var skipAI, skipUpload, skipScrape, force bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scraping, enrichment and upload pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := domain.RunOptions{
				SkipAI:     skipAI,
				SkipUpload: skipUpload,
				SkipScrape: skipScrape,
				Force:      force,
			}
			for _, slug := range strings.Split(targets, ",") {
				if trimmed := strings.TrimSpace(slug); trimmed != "" {
					opts.Targets = append(opts.Targets, trimmed)
				}
			}
			return runPipeline(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&targets, "targets", "t", "", "Comma separated target slugs (default: all)")
	cmd.Flags().BoolVar(&skipAI, "skip-ai", false, "Skip AI analysis")
	cmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "Skip object-storage upload")
	cmd.Flags().BoolVar(&skipScrape, "skip-scrape", false, "Skip scraping and downloading (rerun AI/upload only)")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the scrape-recency cache")
	return cmd
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Upload pending assets to object storage and update the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), domain.RunOptions{SkipScrape: true, SkipAI: true})
		},
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline dashboard and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			pipe, records, cleanup := buildPipeline(cfg, logger)
			defer cleanup()

			server := api.NewServer(cfg, pipe, records, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()
			logger.Info("dashboard listening", zap.String("addr", addr))

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address")
	return cmd
}

func runPipeline(ctx context.Context, opts domain.RunOptions) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pipe, _, cleanup := buildPipeline(cfg, logger)
	defer cleanup()

	records, err := pipe.Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("pipeline finished", zap.Int("records", len(records)))
	return nil
}

func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline.Pipeline, store.Store, func()) {
	records := store.NewCSVStore(cfg.CSVPath)

	deps := pipeline.Deps{
		Store:      records,
		Scraper:    scraper.New(nil, logger),
		Downloader: download.New(logger),
		Metrics:    monitoring.NewMetrics(nil),
		Logger:     logger,
	}

	if cfg.AI != nil && cfg.AI.Enabled {
		ai := cfg.AI
		deps.Analyzer = analyze.New(analyze.Options{
			OutputDir: cfg.Compression.OutputDir,
			MaxWidth:  cfg.Compression.MaxWidth,
			Quality:   cfg.Compression.Quality,
			MaxTags:   ai.MaxTags,
			NewModelClient: func() (analyze.ModelClient, error) {
				return analyze.NewHTTPModelClient(ai.Endpoint, ai.ClassifierModel, ai.CaptionModel)
			},
		}, logger)
	}

	if cfg.Storage != nil && cfg.Storage.Enabled {
		storageCfg := *cfg.Storage
		deps.NewUploader = func() (pipeline.Uploader, error) {
			return upload.New(storageCfg, logger)
		}
	}

	cleanup := func() {}
	if cfg.Cache != nil && cfg.Cache.Enabled {
		cache := store.NewRecentCache(cfg.Cache.Addr, time.Duration(cfg.Cache.TTLDays)*24*time.Hour)
		deps.Recency = cache
		cleanup = func() { cache.Close() }
	}

	return pipeline.New(cfg, deps), records, cleanup
}
