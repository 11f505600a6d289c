// Command aharadar is the CLI entrypoint: it loads configuration, wires
// the storage gateway, LLM router, budget engine, and scheduler behind
// one cobra root command, and drives the pipeline runner. Grounded on
// the teacher's cobra-root-plus-viper-config-init command wiring,
// trimmed to this project's operations (run, migrate, budget-status,
// schedule) instead of the teacher's wide digest/research/serve tree.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lamosty/aharadar-go/internal/budget"
	"github.com/lamosty/aharadar-go/internal/config"
	"github.com/lamosty/aharadar-go/internal/connectors"
	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/llm/providers"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/pipeline/runner"
	"github.com/lamosty/aharadar-go/internal/scheduler"
	"github.com/lamosty/aharadar-go/internal/storage"
	"github.com/lamosty/aharadar-go/internal/storage/postgres"
	"github.com/lamosty/aharadar-go/internal/storage/sqlite"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "aharadar",
		Short: "Personalized content aggregation and ranking pipeline",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newBudgetStatusCommand())
	root.AddCommand(newScheduleCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err == nil {
		logger.InitWithLevel(level)
	} else {
		logger.Init()
	}
	return cfg, nil
}

func openGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, func() error, error) {
	switch cfg.Database.Driver {
	case "postgres":
		gw, err := postgres.Open(ctx, postgres.Config{
			ConnectionString: cfg.Database.ConnectionString,
			MaxOpenConns:     cfg.Database.MaxConnections,
			MaxIdleConns:     cfg.Database.IdleConnections,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres gateway: %w", err)
		}
		return gw, gw.Close, nil
	case "sqlite", "":
		gw, err := sqlite.Open(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite gateway: %w", err)
		}
		return gw, gw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildRouter(ctx context.Context, cfg *config.Config) (*llm.TracedRouter, error) {
	models := map[llm.Purpose]map[llm.Tier]llm.ModelChoice{
		llm.PurposeTriage: {
			llm.TierLow:    {Provider: "gemini", Model: cfg.LLM.Gemini.TriageModel},
			llm.TierNormal: {Provider: "gemini", Model: cfg.LLM.Gemini.TriageModel},
			llm.TierHigh:   {Provider: "anthropic", Model: cfg.LLM.Anthropic.TriageModel},
		},
		llm.PurposeEnrich: {
			llm.TierLow:    {Provider: "gemini", Model: cfg.LLM.Gemini.EnrichModel},
			llm.TierNormal: {Provider: "gemini", Model: cfg.LLM.Gemini.EnrichModel},
			llm.TierHigh:   {Provider: "anthropic", Model: cfg.LLM.Anthropic.EnrichModel},
		},
		llm.PurposeEmbed: {
			llm.TierLow:    {Provider: "gemini", Model: cfg.LLM.EmbeddingModel},
			llm.TierNormal: {Provider: "gemini", Model: cfg.LLM.EmbeddingModel},
			llm.TierHigh:   {Provider: "gemini", Model: cfg.LLM.EmbeddingModel},
		},
		llm.PurposeCatchupPackSelect: {
			llm.TierLow: {Provider: "gemini", Model: cfg.LLM.Gemini.TriageModel},
		},
		llm.PurposeCatchupPackTier: {
			llm.TierLow: {Provider: "gemini", Model: cfg.LLM.Gemini.TriageModel},
		},
	}

	if cfg.LLM.Gemini.APIKey == "" {
		logger.Info("no gemini API key configured, LLM router disabled")
		return nil, nil
	}

	gemini, err := providers.NewGemini(ctx, cfg.LLM.Gemini.APIKey, cfg.LLM.EmbeddingDims)
	if err != nil {
		return nil, fmt.Errorf("construct gemini adapter: %w", err)
	}

	adapters := []llm.ProviderAdapter{gemini}
	if cfg.LLM.Anthropic.APIKey != "" {
		anthropic, err := providers.NewAnthropic(cfg.LLM.Anthropic.APIKey)
		if err != nil {
			return nil, fmt.Errorf("construct anthropic adapter: %w", err)
		}
		adapters = append(adapters, anthropic)
	}

	router := llm.NewRouter(llm.RouterConfig{Models: models}, gemini, adapters...)
	return llm.NewTracedRouter(router), nil
}

func buildBudgetEngine(gw storage.Gateway, cfg *config.Config) (*budget.Engine, error) {
	var cache budget.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := budget.NewRedisCache(cfg.Redis.Addr)
		if err != nil {
			return nil, fmt.Errorf("construct redis cache: %w", err)
		}
		cache = redisCache
	}
	thresholds := budget.Thresholds{
		Approaching: cfg.Budget.ApproachingThreshold,
		Critical:    cfg.Budget.CriticalThreshold,
	}
	return budget.NewEngine(gw, thresholds, cache, time.Duration(cfg.Redis.TTLSecs)*time.Second), nil
}

func newRunCommand() *cobra.Command {
	var topicID string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all due windows for scheduled topics (or one topic with --topic)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw, closeGW, err := openGateway(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeGW()

			router, err := buildRouter(ctx, cfg)
			if err != nil {
				return err
			}
			budgetEngine, err := buildBudgetEngine(gw, cfg)
			if err != nil {
				return err
			}
			registry := connectors.NewRegistry()
			registry.Register(connectors.NewRSSConnector())
			requestsPerSecond := float64(cfg.LLM.RequestsPerMinute) / 60.0
			fetcher := connectors.NewFetcher(registry, connectors.NewRateLimiters(ctx, requestsPerSecond, 5), connectors.DefaultBreakerConfig())

			user, err := gw.Users().EnsureDefault(ctx)
			if err != nil {
				return fmt.Errorf("ensure default user: %w", err)
			}

			var topics []core.Topic
			if topicID != "" {
				topic, err := gw.Topics().Get(ctx, topicID)
				if err != nil {
					return fmt.Errorf("get topic: %w", err)
				}
				topics = []core.Topic{*topic}
			} else {
				topics, err = gw.Topics().ListScheduleEnabled(ctx, user.ID)
				if err != nil {
					return fmt.Errorf("list schedule-enabled topics: %w", err)
				}
			}

			schedulerCfg := scheduler.Config{
				MaxBackfillWindows: cfg.Scheduler.MaxBackfillWindows,
				MinWindowSeconds:   cfg.Scheduler.MinWindowSeconds,
				LagSeconds:         cfg.Scheduler.LagSeconds,
			}

group, groupCtx := errgroup.WithContext(ctx)
			group.SetLimit(concurrency)
			for _, topic := range topics {
				topic := topic
				group.Go(func() error {
					due := scheduler.DueWindows(topic, time.Now(), schedulerCfg)
					for _, window := range due {
						result, err := runner.Run(groupCtx, gw, fetcher, router, budgetEngine, runner.Params{
							Topic:                     topic,
							WindowStart:               window.Start,
							WindowEnd:                 window.End,
							MonthlyCredits:            cfg.Budget.MonthlyCredits,
							DailyThrottleCredits:      dailyThrottlePtr(cfg.Budget.DailyThrottleCredits),
							EmbedModel:                cfg.LLM.EmbeddingModel,
							EmbedDims:                 cfg.LLM.EmbeddingDims,
							MaxItemsPerSource:         cfg.Ingest.MaxItemsPerSource,
							MaxPoolSize:               cfg.FairSampling.MaxPoolSize,
							MaxTriageCalls:            maxTriageCallsFor(window.Mode, cfg),
							ExplorationFraction:       cfg.TriageAllocation.ExplorationFraction,
							NoveltyLookbackDays:       cfg.Novelty.LookbackDays,
							MaxDigestItems:            cfg.FairSampling.MaxPoolSize,
							MaxDeepSummaries:          5,
							EnableSignalCorroboration: cfg.Signal.Enabled,
							SignalWeight:              cfg.Ranking.WeightSignal,
						})
						if err != nil {
							logger.Error("pipeline run failed", err, "topic_id", topic.ID, "window_start", window.Start, "window_end", window.End)
							continue
						}
						logger.Info("pipeline run completed", "topic_id", topic.ID, "tier", string(result.Tier), "digest_skipped", result.DigestSkippedDueToCredits)
					}
					return nil
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&topicID, "topic", "", "run only this topic id instead of all schedule-enabled topics")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum number of topics to run concurrently")
	return cmd
}

func maxTriageCallsFor(mode core.Tier, cfg *config.Config) int {
	switch mode {
	case core.TierHigh:
		return cfg.TriageAllocation.MaxTriageCallsHigh
	case core.TierLow:
		return cfg.TriageAllocation.MaxTriageCallsLow
	default:
		return cfg.TriageAllocation.MaxTriageCallsNormal
	}
}

func dailyThrottlePtr(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				logger.Info("sqlite gateway applies its embedded schema on open; nothing to migrate")
				return nil
			}
			gw, err := postgres.Open(ctx, postgres.Config{ConnectionString: cfg.Database.ConnectionString})
			if err != nil {
				return fmt.Errorf("open postgres gateway: %w", err)
			}
			defer gw.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newBudgetStatusCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "budget-status",
		Short: "Print the current monthly/daily credits status for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw, closeGW, err := openGateway(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeGW()

			if userID == "" {
				user, err := gw.Users().EnsureDefault(ctx)
				if err != nil {
					return fmt.Errorf("ensure default user: %w", err)
				}
				userID = user.ID
			}

			budgetEngine, err := buildBudgetEngine(gw, cfg)
			if err != nil {
				return err
			}
			status, err := budgetEngine.ComputeCreditsStatus(ctx, userID, cfg.Budget.MonthlyCredits, dailyThrottlePtr(cfg.Budget.DailyThrottleCredits), time.Now())
			if err != nil {
				return fmt.Errorf("compute credits status: %w", err)
			}
			fmt.Printf("monthly: %.2f/%.2f used (remaining %.2f)\n", status.MonthlyUsed, status.MonthlyLimit, status.MonthlyRemaining)
			if status.DailyLimit != nil {
				fmt.Printf("daily: %.2f/%.2f used (remaining %.2f)\n", status.DailyUsed, *status.DailyLimit, *status.DailyRemaining)
			}
			fmt.Printf("paid calls allowed: %v\n", status.PaidCallsAllowed)
			fmt.Printf("warning level: %s\n", status.WarningLevel)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the singleton default user)")
	return cmd
}

func newScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the due windows for every schedule-enabled topic without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw, closeGW, err := openGateway(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeGW()

			user, err := gw.Users().EnsureDefault(ctx)
			if err != nil {
				return fmt.Errorf("ensure default user: %w", err)
			}
			topics, err := gw.Topics().ListScheduleEnabled(ctx, user.ID)
			if err != nil {
				return fmt.Errorf("list schedule-enabled topics: %w", err)
			}

			schedulerCfg := scheduler.Config{
				MaxBackfillWindows: cfg.Scheduler.MaxBackfillWindows,
				MinWindowSeconds:   cfg.Scheduler.MinWindowSeconds,
				LagSeconds:         cfg.Scheduler.LagSeconds,
			}
			for _, topic := range topics {
				due := scheduler.DueWindows(topic, time.Now(), schedulerCfg)
				for _, window := range due {
					fmt.Printf("%s\t%s -> %s\t%s\t%s\n", topic.ID, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339), window.Mode, window.Trigger)
				}
			}
			return nil
		},
	}
}
