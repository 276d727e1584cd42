// Command pilot runs the prediction-market arbitrage engine: it wires the
// bus, every ingest/scanner/strategy/risk/execution/allocator agent, the
// dashboard snapshot API, and the scheduled maintenance/backup jobs, then
// blocks until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/oracle-arb/internal/allocator"
	"github.com/aristath/oracle-arb/internal/backup"
	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/config"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/aristath/oracle-arb/internal/execution"
	"github.com/aristath/oracle-arb/internal/ingest"
	"github.com/aristath/oracle-arb/internal/maintenance"
	"github.com/aristath/oracle-arb/internal/matcher"
	"github.com/aristath/oracle-arb/internal/persistence"
	"github.com/aristath/oracle-arb/internal/risk"
	"github.com/aristath/oracle-arb/internal/runtime"
	"github.com/aristath/oracle-arb/internal/scanner"
	"github.com/aristath/oracle-arb/internal/server"
	"github.com/aristath/oracle-arb/internal/strategy"
	"github.com/aristath/oracle-arb/pkg/logger"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "pilot",
		Short: "prediction-market arbitrage engine",
	}

	var dataDir string
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override ORACLE_ARB_DATA_DIR")

	root.AddCommand(newRunCmd(&dataDir))
	root.AddCommand(newReportCmd(&dataDir))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start every agent and the dashboard snapshot API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(*dataDir)
		},
	}
}

func newReportCmd(dataDir *string) *cobra.Command {
	var days int
	var asJSON bool
	c := &cobra.Command{
		Use:   "report",
		Short: "print the trailing trade summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(*dataDir, days, asJSON)
		},
	}
	c.Flags().IntVar(&days, "days", 1, "trailing window in days")
	c.Flags().BoolVar(&asJSON, "json", false, "print as JSON instead of a table")
	return c
}

func runReport(dataDirOverride string, days int, asJSON bool) error {
	cfg, err := config.Load(dataDirOverride)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(database.Config{Path: cfg.DBPath, Profile: database.ProfileLedger, Name: "oracle-arb"})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	repo, err := persistence.New(db)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}

	summary, err := repo.GetDailySummary(days)
	if err != nil {
		return fmt.Errorf("get daily summary: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("trailing %d day(s): %d trades, %d rejected\n", days, summary.Total, summary.Rejections)
	for t, n := range summary.ByType {
		fmt.Printf("  %-20s %d\n", t, n)
	}
	for reason, n := range summary.RiskRejections {
		fmt.Printf("  rejected: %-20s %d\n", reason, n)
	}
	return nil
}

func runEngine(dataDirOverride string) error {
	cfg, err := config.Load(dataDirOverride)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Str("version", version).Bool("paper_trading", cfg.PaperTrading).Msg("starting pilot")

	db, err := database.New(database.Config{Path: cfg.DBPath, Profile: database.ProfileLedger, Name: "oracle-arb"})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	b, err := bus.New(db, log)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}

	repo, err := persistence.New(db)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}

	orch := runtime.New(b, log)

	gate := risk.New(b, risk.Config{
		InitialBankroll:    cfg.InitialBankroll,
		PositionLimitPct:   cfg.PositionLimitPct,
		PlatformLimitPct:   cfg.PlatformLimitPct,
		DailyLossLimitPct:  cfg.DailyLossLimitPct,
		DrawdownLimitPct:   cfg.DrawdownLimitPct,
		MinProfitThreshold: cfg.MinProfitThreshold,
	}, log)
	orch.Register(gate)

	feedCtx, cancelFeeds := context.WithCancel(context.Background())
	defer cancelFeeds()

	venuePriceChannels := make([]string, 0, len(cfg.ActiveVenues))
	venueAdapters := make(map[string]ingest.VenueAdapter, len(cfg.ActiveVenues))
	for _, venue := range cfg.ActiveVenues {
		cred := cfg.Credentials[venue]
		adapter := ingest.NewRESTVenueAdapter(ingest.RESTVenueConfig{
			Venue:   venue,
			BaseURL: venueBaseURL(venue),
			APIKey:  cred.APIKey,
		})
		venueAdapters[venue] = adapter

		orch.Register(ingest.NewVenueWatcher(venue, adapter, b, 5*time.Second, log))
		venuePriceChannels = append(venuePriceChannels, fmt.Sprintf("venue.%s.prices", venue))

		feed := ingest.NewWSOrderBookFeed(venue, venueWSURL(venue), log)
		go func(venue string) {
			if err := feed.Run(feedCtx); err != nil && feedCtx.Err() == nil {
				log.Warn().Err(err).Str("venue", venue).Msg("order book feed stopped")
			}
		}(venue)
		gate.RegisterOrderBookProvider(venue, feed)
	}

	oracleChans := make([]string, 0, len(cfg.ActiveOracles)*3)
	for _, source := range cfg.ActiveOracles {
		adapter := ingest.NewHTTPOracleAdapter(ingest.HTTPOracleConfig{
			Source:  source,
			BaseURL: oracleBaseURL(source),
		})
		symbols := oracleSymbols(source)
		orch.Register(ingest.NewOracleAgent(adapter, symbols, b, 10*time.Second, log))
		for _, sym := range symbols {
			oracleChans = append(oracleChans, fmt.Sprintf("oracle.%s.%s", source, sym))
		}
	}

	subscriptions := append(append([]string{}, venuePriceChannels...), oracleChans...)
	sc := scanner.New(b, scanner.Config{
		MinEdgePct:        cfg.MinEdgePct,
		MinSignalStrength: cfg.MinSignalStrength,
		Subscriptions:     subscriptions,
	}, log)
	orch.Register(sc)

	orch.Register(matcher.NewAgent(matcher.New(), sc, venuePriceChannels, 30*time.Second, log))

	orch.Register(strategy.NewAgent(
		strategy.NewOracleSniper(cfg.PositionLimitPct),
		b,
		strategy.Config{MinEdgePct: cfg.MinEdgePct, MinSignalStrength: cfg.MinSignalStrength, MaxPositionPct: cfg.PositionLimitPct},
		log,
	))

	alloc, err := allocator.New(b, allocator.Config{
		Strategies:              []string{"oracle-sniper"},
		TotalCapital:            cfg.InitialBankroll,
		MinAllocation:           cfg.MinAllocationPct,
		MaxAllocation:           cfg.MaxAllocationPct,
		RebalanceIntervalTrades: cfg.RebalanceIntervalTrades,
	}, log)
	if err != nil {
		return fmt.Errorf("init allocator: %w", err)
	}
	orch.Register(alloc)

	breaker := execution.NewCircuitBreaker(gate, cfg.InitialBankroll, cfg.CircuitBreakerFloorPct)
	if cfg.PaperTrading {
		paperExec, err := execution.New(b, repo, breaker, log)
		if err != nil {
			return fmt.Errorf("init paper executor: %w", err)
		}
		orch.Register(paperExec)
	} else {
		orch.Register(execution.NewLiveExecutor(b, venueAdapters, breaker, log))
	}

	srv := server.New(server.Config{
		Port:         cfg.HTTPPort,
		DevMode:      cfg.DevMode,
		Log:          log,
		Allocator:    alloc,
		Risk:         gate,
		Repo:         repo,
		Orchestrator: orch,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("dashboard server stopped")
		}
	}()

	maint := maintenance.New(maintenance.Config{
		Databases: maintenance.Checkers{"oracle-arb": db},
		DataDir:   cfg.DataDir,
	}, log)
	if err := maint.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start maintenance scheduler")
	}
	defer maint.Stop()

	if cfg.BackupEnabled {
		s3Client, err := backup.NewS3Client(context.Background(), backup.S3ClientConfig{
			Bucket:   cfg.BackupBucket,
			Endpoint: cfg.BackupEndpoint,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to init backup client, backups disabled")
		} else {
			svc := backup.New(s3Client, []backup.Source{{Name: "oracle-arb", DB: db}}, cfg.DataDir, log)
			go runBackupLoop(feedCtx, svc, time.Duration(cfg.BackupInterval)*time.Minute, log)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	orch.Stop()
	cancelFeeds()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("dashboard server forced to shutdown")
	}
	return nil
}

func runBackupLoop(ctx context.Context, svc *backup.Service, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := svc.Run(runCtx); err != nil {
				log.Error().Err(err).Msg("scheduled backup failed")
			} else if err := svc.Rotate(runCtx, 30); err != nil {
				log.Warn().Err(err).Msg("backup rotation failed")
			}
			cancel()
		}
	}
}

func venueBaseURL(venue string) string {
	switch venue {
	case "polymarket":
		return "https://clob.polymarket.com"
	case "kalshi":
		return "https://trading-api.kalshi.com/trade-api/v2"
	default:
		return ""
	}
}

func venueWSURL(venue string) string {
	switch venue {
	case "polymarket":
		return "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	case "kalshi":
		return "wss://trading-api.kalshi.com/trade-api/ws/v2"
	default:
		return ""
	}
}

func oracleBaseURL(source string) string {
	switch source {
	case "binance":
		return "https://api.binance.com"
	case "fred":
		return "https://api.stlouisfed.org"
	default:
		return ""
	}
}

func oracleSymbols(source string) []string {
	switch source {
	case "binance":
		return []string{"BTC", "ETH", "SOL"}
	default:
		return nil
	}
}
