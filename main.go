package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/cardledger/config"
	"sjsage522/cardledger/internal"
	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/internal/session"
	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/services/cache"
	"sjsage522/cardledger/services/history"
	"sjsage522/cardledger/services/ledger"
	"sjsage522/cardledger/services/publisher"
	"sjsage522/cardledger/services/worker"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cardledger",
	Short:         "Keep a CSV ledger of marketplace purchases and sales",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new orders and append them to the ledger",
	Long: `Walk the purchase and/or sale listings newest first and append every
order not yet in the ledger. Re-running is safe: known orders are skipped.

Examples:
  cardledger sync --include-purchases --include-sales
  cardledger sync --include-sales --year 2025 --ledger sales.csv`,
	RunE: runSync,
}

// Sync command flags
var (
	syncYear             int
	syncIncludePurchases bool
	syncIncludeSales     bool
	envFile              string
	ledgerFile           string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&ledgerFile, "ledger", "", "Ledger CSV path (overrides LEDGER_FILE)")

	syncCmd.Flags().IntVar(&syncYear, "year", 0, "Only keep orders from this year on")
	syncCmd.Flags().BoolVar(&syncIncludePurchases, "include-purchases", false, "Export received orders")
	syncCmd.Flags().BoolVar(&syncIncludeSales, "include-sales", false, "Export sent orders")

	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the environment, initializes the logger and applies the
// flags shared by all commands
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// A missing .env is fine
		godotenv.Load()
	}

	logger.Init()

	cfg := config.LoadConfig()
	if ledgerFile != "" {
		cfg.LedgerFile = ledgerFile
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Year = syncYear
	cfg.IncludePurchases = syncIncludePurchases
	cfg.IncludeSales = syncIncludeSales

	log := logger.Default
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("ledger", cfg.LedgerFile).
		Int("year", cfg.Year).
		Bool("purchases", cfg.IncludePurchases).
		Bool("sales", cfg.IncludeSales).
		Msg("Starting sync")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal, stopping after the current request")
			cancel()
		case <-ctx.Done():
		}
	}()

	services := initializeServices(ctx, cfg)
	defer services.Cleanup()

	w := newWorker(cfg, services.Dependencies)
	summary, err := w.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	if summary.Failed() {
		return fmt.Errorf("one or more sections stopped early; %d new orders were saved", summary.New)
	}
	return nil
}

// newWorker wires the run of one sync
func newWorker(cfg *config.Config, deps internal.Dependencies) *worker.Worker {
	provider := session.NewProvider(
		session.Credentials{
			Cookie:    cfg.Cookie,
			SessionID: cfg.SessionID,
			Username:  cfg.Username,
			Password:  cfg.Password,
			CSRF:      cfg.LoginCSRF,
		},
		session.Options{
			HomeURL:           cfg.HomeURL(),
			UserAgent:         cfg.UserAgent,
			Marker:            cfg.SessionMarker,
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			DumpFile:          cfg.DebugDumpFile,
		},
	)

	establish := worker.ProviderFunc(func(ctx context.Context) (crawler.PageSource, error) {
		sess, err := provider.Establish(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})

	newCrawler := func(source crawler.PageSource) crawler.Crawler {
		return crawler.CreateCrawler(cfg, deps.Cache, source)
	}

	return worker.NewWorker(
		establish,
		newCrawler,
		ledger.NewStore(cfg.LedgerFile),
		deps,
		crawler.CreateListings(cfg),
		cfg.Cutoff(),
	)
}

func printSummary(cmd *cobra.Command, summary *worker.Summary) {
	out := cmd.OutOrStdout()
	for _, res := range summary.Sections {
		line := fmt.Sprintf("%-9s %3d new  %3d pages  stop: %s", res.Section, len(res.Records), res.Pages, res.Stop)
		if res.Err != nil {
			line += fmt.Sprintf(" (%v)", res.Err)
		}
		fmt.Fprintln(out, line)
	}
	if summary.UnparsedDates > 0 {
		fmt.Fprintf(out, "%d orders had an unreadable date and were kept without cutoff check\n", summary.UnparsedDates)
	}
	fmt.Fprintf(out, "%d new orders, ledger holds %d\n", summary.New, summary.LedgerSize)
}

// Services holds all the initialized services
type Services struct {
	internal.Dependencies
	closers []func() error
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			logger.LogError("main", err, "failed to close service")
		}
	}
}

// initializeServices connects the optional services. One that cannot be
// reached is disabled for this run, never fatal.
func initializeServices(ctx context.Context, cfg *config.Config) *Services {
	services := &Services{}
	log := logger.Default

	if cfg.MemcacheAddr != "" {
		cacheService := cache.NewMemcacheService(cfg.MemcacheAddr, 2*time.Second)
		if err := cacheService.Ping(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unreachable, rate limit blocks disabled")
		} else {
			services.Cache = cacheService
			log.Info().Str("addr", cfg.MemcacheAddr).Msg("Connected to Memcache")
		}
	}

	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		if err := redisPublisher.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, publishing disabled")
			redisPublisher.Close()
		} else {
			services.Publisher = redisPublisher
			services.closers = append(services.closers, redisPublisher.Close)
			log.Info().
				Str("addr", cfg.RedisAddr).
				Int("db", cfg.RedisDB).
				Str("stream", cfg.RedisStream).
				Msg("Connected to Redis")
		}
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.HistoryDB).Msg("Run history unavailable")
		} else {
			services.History = store
			services.closers = append(services.closers, store.Close)
		}
	}

	return services
}
