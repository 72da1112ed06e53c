// FolioPilot — portfolio copilot backend.
//
// Main CLI entrypoint using the cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/foliopilot/foliopilot/internal/config"
	"github.com/foliopilot/foliopilot/internal/httpx"
	"github.com/foliopilot/foliopilot/internal/llm"
	"github.com/foliopilot/foliopilot/internal/logging"
	"github.com/foliopilot/foliopilot/internal/marketdata"
	"github.com/foliopilot/foliopilot/internal/quota"
	"github.com/foliopilot/foliopilot/internal/server"
	"github.com/foliopilot/foliopilot/internal/uploads"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foliopilot",
	Short: "FolioPilot — investment portfolio copilot backend",
	Long: `FolioPilot serves the portfolio copilot REST API: market data
resolution with layered caching and provider fallbacks, LLM invocation
with structured output, and per-user usage quotas.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		log = logging.Setup(level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(quoteCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("foliopilot %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := buildServices()
		if err != nil {
			return err
		}
		defer closeFn()

		srv := server.New(cfg, svc, log)
		return srv.ListenAndServe()
	},
}

// --- Quote Command ---

var quoteCmd = &cobra.Command{
	Use:   "quote [symbol]",
	Short: "Fetch a single quote and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := buildServices()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		canonicals, err := svc.Batch.NormalizeSymbols(args[:1])
		if err != nil {
			return err
		}
		result, err := svc.Batch.GetQuoteBatch(ctx, canonicals)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Data)
	},
}

// buildServices wires the full dependency graph from the loaded config.
func buildServices() (server.Deps, func(), error) {
	fetcher := httpx.New()

	var primary, secondary *llm.Client
	if cfg.OpenAI.APIKey != "" {
		primary = llm.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	if cfg.OpenRouter.APIKey != "" {
		secondary = llm.NewOpenRouter(cfg.OpenRouter.APIKey, cfg.OpenRouter.Model,
			cfg.OpenRouter.BaseURL, cfg.OpenRouter.Timeout(),
			cfg.OpenRouter.SiteURL, cfg.OpenRouter.SiteName)
	}
	invoker := llm.NewInvoker(primary, secondary, cfg.OpenAI.SystemPrompt,
		cfg.OpenAI.MaxOutputTokens, cfg.LLMCache.TTL(), cfg.LLMCache.MaxEntries, log)

	chart := marketdata.NewChartProvider(fetcher, cfg.Prices.ChartBaseURL, cfg.Prices.ChartRetryDelay(), log)
	search := marketdata.NewSearchProvider(fetcher, chart, cfg.Prices.SearchBaseURL,
		cfg.Prices.SearchTTL(), cfg.Prices.SearchMaxResults, log)
	csv := marketdata.NewCSVProvider(fetcher, cfg.Prices.CSVBaseURL, log)
	oracle := marketdata.NewOracleProvider(invoker, log)
	resolver := marketdata.NewResolver(chart, search, log)

	quotes := marketdata.NewQuoteService(resolver, csv, oracle,
		cfg.Prices.CacheTTL(), cfg.Prices.CacheMaxEntries, log)
	history := marketdata.NewHistoryService(chart, resolver,
		cfg.Prices.HistoryTTL(), cfg.Prices.HistoryMaxEntries,
		cfg.Prices.IntradayTTL(), cfg.Prices.IntradayMaxEntries, log)
	details := marketdata.NewDetailsService(quotes, history, csv, oracle,
		cfg.Prices.IntradayLookback(), log)
	batch := marketdata.NewBatchService(quotes, cfg.Prices.MaxSymbolsPerRequest, log)

	closeFn := func() {}
	var store quota.Store
	if cfg.Quota.DBPath != "" {
		sqlStore, err := quota.OpenSQLite(cfg.Quota.DBPath)
		if err != nil {
			return server.Deps{}, nil, fmt.Errorf("open quota store: %w", err)
		}
		store = sqlStore
		closeFn = func() { _ = sqlStore.Close() }
	} else {
		store = quota.NewMemoryStore()
	}

	return server.Deps{
		Invoker: invoker,
		Batch:   batch,
		Details: details,
		Search:  search,
		Gate:    quota.NewGate(store),
		Uploads: uploads.NewStore(),
		Auth:    server.StaticAuthenticator{User: server.User{ID: "local", Tier: "pro"}},
	}, closeFn, nil
}
