// Command prism-lambda serves the processing service behind API Gateway
// (HTTP API, payload v2). Bundles are uploaded to PRISM_ARCHIVE_BUCKET when
// it is set; the Gemini key comes from GEMINI_API_KEY or SSM.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/boot"
	"github.com/fpang/prism/internal/logging"
	"github.com/fpang/prism/internal/planner"
	"github.com/fpang/prism/internal/server"
)

func main() {
	initStart := time.Now()
	logging.InitWithWriter(os.Stdout)
	ctx := context.Background()

	clients, err := boot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	if err := boot.LoadGeminiKey(ctx, clients.SSM); err != nil {
		log.Warn().Err(err).Msg("Gemini API key not loaded from SSM")
	}

	model := planner.ModelName()
	p := boot.NewPlanner(ctx, model, false)
	bundles := boot.InitArchive(clients.Config, boot.EnvArchiveBucket)
	table := boot.InitBatches(clients.DynamoDB, boot.EnvBatchTable)

	srv := server.New(server.Config{
		Planner:        p,
		Archive:        boot.Archiver(bundles),
		Batches:        boot.Batches(table, nil),
		AllowedOrigins: boot.AllowedOrigins(os.Getenv(boot.EnvAllowedOrigins)),
	})

	startup := boot.StartupLog("prism-lambda", initStart).
		Version(commitHash).
		Config("build_time", buildTime).
		Config("model", model).
		Feature("gemini", p.Model() != "").
		Feature("archive_upload", bundles != nil)
	if bundles != nil {
		startup.Bucket("archive", bundles.Bucket())
	}
	if table != nil {
		startup.Table("batches", table.Table())
	}
	startup.Log()

	adapter := httpadapter.NewV2(srv.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
