// Command prism-web runs the processing service locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/prism/internal/archive"
	"github.com/fpang/prism/internal/boot"
	"github.com/fpang/prism/internal/logging"
	"github.com/fpang/prism/internal/planner"
	"github.com/fpang/prism/internal/server"
	"github.com/fpang/prism/internal/store"
)

// CLI flags
var (
	portFlag     int
	modelFlag    string
	seedFlag     uint64
	workersFlag  int
	validateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "prism-web",
	Short: "Local processing service for Prism",
	Long: `Prism Web starts the processing service used by prism-edit: plan
generation, preview rendering, step explanations and batch packaging.

Without a Gemini API key the service still runs; plans and explanations
come from built-in fallbacks.

Examples:
  prism-web
  prism-web --port 9090
  prism-web --model gemini-2.5-pro --seed 42`,
	Version: commitHash + " (" + buildTime + ")",
	Run:     runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8000, "Port to listen on")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", planner.ModelName(), "Gemini model to use")
	rootCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "Fixed augmentation seed (0 = random)")
	rootCmd.Flags().IntVar(&workersFlag, "workers", 0, "Parallel images per apply request (0 = GOMAXPROCS)")
	rootCmd.Flags().BoolVar(&validateFlag, "validate-key", true, "Validate the Gemini API key at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	p := boot.NewPlanner(ctx, modelFlag, validateFlag)

	var (
		bundles *archive.Store
		table   *store.DynamoStore
	)
	if os.Getenv(boot.EnvArchiveBucket) != "" || os.Getenv(boot.EnvBatchTable) != "" {
		clients, err := boot.InitAWS(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS config")
		}
		bundles = boot.InitArchive(clients.Config, boot.EnvArchiveBucket)
		table = boot.InitBatches(clients.DynamoDB, boot.EnvBatchTable)
	}

	origins := boot.AllowedOrigins(os.Getenv(boot.EnvAllowedOrigins))
	srv := server.New(server.Config{
		Planner:        p,
		Archive:        boot.Archiver(bundles),
		Batches:        boot.Batches(table, store.NewMemoryStore()),
		Workers:        workersFlag,
		Seed:           seedFlag,
		AllowedOrigins: origins,
	})

	addr := fmt.Sprintf(":%d", portFlag)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	startup := boot.StartupLog("prism-web", initStart).
		Version(commitHash).
		Endpoint("listen", addr).
		Config("model", modelFlag).
		Config("workers", fmt.Sprint(workersFlag)).
		Feature("gemini", p.Model() != "").
		Feature("archive_upload", bundles != nil).
		Feature("fixed_seed", seedFlag != 0)
	if bundles != nil {
		startup.Bucket("archive", bundles.Bucket())
	}
	if table != nil {
		startup.Table("batches", table.Table())
	}
	startup.Log()

	fmt.Printf("\n  Prism service: http://localhost:%d\n\n", portFlag)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
