package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/leadflow/leadflow/internal/apollo"
	"github.com/leadflow/leadflow/internal/campaign"
	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/export"
	"github.com/leadflow/leadflow/internal/generate"
	"github.com/leadflow/leadflow/internal/generate/gemini"
	"github.com/leadflow/leadflow/internal/generate/openai"
	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/logger"
	"github.com/leadflow/leadflow/internal/pipeline"
	"github.com/leadflow/leadflow/internal/pipeline/worker"
	"github.com/leadflow/leadflow/internal/redact"
	"github.com/leadflow/leadflow/internal/send"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var campaignPath string
	var outDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: search, enrich, generate, send",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(cmd)
			if err != nil {
				return err
			}
			camp, err := campaign.Load(campaignPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := buildDeps(ctx, cfg, camp, log)
			if err != nil {
				return err
			}

			run := pipeline.NewRun(deps)
			runErr := run.Execute(ctx, camp.Product())

			// Export whatever the run produced, even after a stage failure:
			// completed work is never discarded.
			if err := exportRun(run, outDir); err != nil {
				log.Error().Str("error", redact.Secrets(err.Error())).Msg("export failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), run.Summary())
			if runErr != nil {
				return fmt.Errorf("%s", redact.Secrets(runErr.Error()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&campaignPath, "campaign", "", "Campaign YAML file (required)")
	cmd.Flags().StringVar(&outDir, "out-dir", "out", "Directory for exported CSVs")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var campaignPath string
	var outPath string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search and enrich only, exporting leads as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(cmd)
			if err != nil {
				return err
			}
			camp, err := campaign.Load(campaignPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := apollo.NewClient(apollo.Config{
				APIKey:  cfg.Apollo.APIKey,
				BaseURL: cfg.Apollo.BaseURL,
			})
			if err != nil {
				return err
			}

			pager := client.Search(camp.Query(), retryPolicy(cfg))
			records, err := pager.Collect(ctx)
			if err != nil {
				log.Error().Str("error", redact.Secrets(err.Error())).Int("partial", len(records)).Msg("search incomplete")
			}
			log.Info().Int("records", len(records)).Msg("search complete")

			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, rec.ID)
			}
			enriched, failed, enrichErr := client.Enrich(ctx, ids, enrichOptions(cfg))
			for i := range records {
				if e, ok := enriched[records[i].ID]; ok {
					records[i].ApplyEnrichment(e)
				}
			}
			log.Info().Int("enriched", len(enriched)).Int("failed", len(failed)).Msg("enrich complete")

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			if err := export.WriteRecordsCSV(f, records); err != nil {
				return err
			}
			if enrichErr != nil {
				return fmt.Errorf("%s", redact.Secrets(enrichErr.Error()))
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&campaignPath, "campaign", "", "Campaign YAML file (required)")
	cmd.Flags().StringVar(&outPath, "out", "leads.csv", "Output CSV file path")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func loadConfigAndLogger(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	return cfg, log, nil
}

func retryPolicy(cfg config.Config) apollo.RetryPolicy {
	return apollo.RetryPolicy{MaxRetries: cfg.Pipeline.MaxRetries}
}

func workerOptions(cfg config.Config) worker.Options {
	return worker.Options{
		Workers:        cfg.Pipeline.Workers,
		MaxRetries:     cfg.Pipeline.MaxRetries,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
		RateLimitRPS:   cfg.Pipeline.RateLimitRPS,
	}
}

func enrichOptions(cfg config.Config) apollo.EnrichOptions {
	return apollo.EnrichOptions{
		ChunkSize: cfg.Pipeline.EnrichChunkSize,
		Worker:    workerOptions(cfg),
	}
}

// enricherAdapter binds the client's enrich options so the orchestrator
// sees the narrow Enricher interface.
type enricherAdapter struct {
	client *apollo.Client
	opts   apollo.EnrichOptions
}

func (a enricherAdapter) Enrich(ctx context.Context, ids []string) (map[string]lead.Enrichment, []string, error) {
	return a.client.Enrich(ctx, ids, a.opts)
}

func buildDeps(ctx context.Context, cfg config.Config, camp campaign.Campaign, log zerolog.Logger) (pipeline.Deps, error) {
	client, err := apollo.NewClient(apollo.Config{
		APIKey:  cfg.Apollo.APIKey,
		BaseURL: cfg.Apollo.BaseURL,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	backend, err := newGeneratorBackend(ctx, cfg)
	if err != nil {
		return pipeline.Deps{}, err
	}

	resendBackend, err := send.NewResendBackend(cfg.Resend.APIKey, cfg.Resend.From)
	if err != nil {
		return pipeline.Deps{}, err
	}
	batcher := send.NewBatcher(resendBackend, send.Options{
		BatchSize:      cfg.Pipeline.SendBatchSize,
		PacingInterval: cfg.Pipeline.PacingInterval,
		MaxRetries:     cfg.Pipeline.SendRetries,
	})

	query := camp.Query()
	retry := retryPolicy(cfg)
	return pipeline.Deps{
		NewSearch: func() pipeline.SearchSource {
			return client.Search(query, retry)
		},
		Enricher:       enricherAdapter{client: client, opts: enrichOptions(cfg)},
		Generator:      generate.NewMailer(backend),
		Sender:         batcher,
		GenerateWorker: workerOptions(cfg),
		Logger:         logger.WithComponent(log, "pipeline"),
	}, nil
}

func newGeneratorBackend(ctx context.Context, cfg config.Config) (generate.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Generator.Backend)) {
	case "openai":
		backend, err := openai.New(openai.Config{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Generator.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		backend, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Generator.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

func exportRun(run *pipeline.Run, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(outDir, "records.csv"), func(f *os.File) error {
		return export.WriteRecordsCSV(f, run.Records())
	}); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(outDir, "emails.csv"), func(f *os.File) error {
		return export.WriteEmailsCSV(f, run.Emails())
	}); err != nil {
		return err
	}
	return writeCSV(filepath.Join(outDir, "results.csv"), func(f *os.File) error {
		return export.WriteResultsCSV(f, run.Results())
	})
}

func writeCSV(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
