package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/basketd/basketd/internal/api"
	"github.com/basketd/basketd/internal/catalog"
	"github.com/basketd/basketd/internal/classify"
	"github.com/basketd/basketd/internal/config"
	"github.com/basketd/basketd/internal/database"
	"github.com/basketd/basketd/internal/flow"
	"github.com/basketd/basketd/internal/log"
	"github.com/basketd/basketd/internal/session"
)

var serveJSONLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveJSONLogs)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.AddCommand(serveCmd)
}

// runServe loads configuration, wires the application together and runs
// the HTTP server until interrupted.
func runServe(jsonLogs bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{JSON: jsonLogs})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting basketd", "version", AppVersion, "model", cfg.ModelName)

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit")
	}

	classifier, err := classify.New(classify.Config{
		Genkit:    g,
		ModelName: cfg.ModelName,
		Logger:    logger,
		Limiter:   rate.NewLimiter(10, 30),
	})
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}

	catalogClient := catalog.New(catalog.Config{
		StoresURL:   cfg.StoresURL,
		ProductsURL: cfg.ProductsURL,
		RadiusM:     cfg.SearchRadiusM,
		Timeout:     cfg.CatalogTimeout,
		MaxAttempts: cfg.CatalogRetries,
		Logger:      logger,
	})

	engine, err := flow.NewEngine(flow.Config{
		Classifier: classifier,
		Catalog:    catalogClient,
		Logger:     logger,
		StoreFit: flow.StoreFitConfig{
			AskThreshold:     cfg.StoreFitAskThreshold,
			FullFitThreshold: cfg.StoreFitFullThreshold,
		},
		ClampQuantity: cfg.ClampQuantity,
		HistoryWindow: cfg.HistoryWindow,
	})
	if err != nil {
		return fmt.Errorf("creating flow engine: %w", err)
	}

	store := session.NewStore(pool, logger)

	turns := api.NewTurnHandler(engine, store, cfg.DefaultLatitude, cfg.DefaultLongitude, logger)
	health := api.NewHealthHandler(store)
	server := api.NewServer(turns, health)

	return server.Run(ctx, cfg.HTTPAddr)
}
