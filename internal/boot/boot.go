// Package boot holds the startup wiring shared by the service binaries:
// AWS config, the optional bundle archive and batch table, the Gemini key
// from SSM and the planner.
package boot

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/archive"
	"github.com/fpang/prism/internal/auth"
	"github.com/fpang/prism/internal/logging"
	"github.com/fpang/prism/internal/planner"
	"github.com/fpang/prism/internal/server"
	"github.com/fpang/prism/internal/store"
)

// Environment variables read at startup.
const (
	EnvArchiveBucket  = "PRISM_ARCHIVE_BUCKET"
	EnvBatchTable     = "PRISM_BATCH_TABLE"
	EnvAllowedOrigins = "PRISM_ALLOWED_ORIGINS"
	EnvAPIKeyParam    = "SSM_API_KEY_PARAM"
)

// DefaultAPIKeyParam is the SSM parameter holding the Gemini key.
const DefaultAPIKeyParam = "/prism/prod/gemini-api-key"

// AWSClients holds the AWS config and the clients built from it.
type AWSClients struct {
	Config   aws.Config
	SSM      *ssm.Client
	DynamoDB *dynamodb.Client
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, err
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config:   cfg,
		SSM:      ssm.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
	}, nil
}

// InitArchive returns a bundle store for the bucket named by bucketEnvVar,
// or nil when the variable is unset.
func InitArchive(cfg aws.Config, bucketEnvVar string) *archive.Store {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Info().Str("env_var", bucketEnvVar).Msg("Archive bucket not set, bundles are returned inline only")
		return nil
	}
	return archive.NewStore(cfg, bucket)
}

// Archiver adapts a possibly nil store to the server's optional Archiver.
func Archiver(a *archive.Store) server.Archiver {
	if a == nil {
		return nil
	}
	return a
}

// InitBatches returns a batch ledger on the table named by tableEnvVar, or
// nil when the variable is unset.
func InitBatches(client *dynamodb.Client, tableEnvVar string) *store.DynamoStore {
	table := os.Getenv(tableEnvVar)
	if table == "" {
		log.Info().Str("env_var", tableEnvVar).Msg("Batch table not set")
		return nil
	}
	return store.NewDynamoStore(client, table)
}

// Batches adapts a possibly nil table store to a BatchStore, using fallback
// (which may be nil) when there is no table.
func Batches(table *store.DynamoStore, fallback store.BatchStore) store.BatchStore {
	if table == nil {
		return fallback
	}
	return table
}

type parameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey copies the Gemini key from SSM Parameter Store into
// GEMINI_API_KEY unless it is already set.
func LoadGeminiKey(ctx context.Context, client parameterGetter) error {
	if os.Getenv(auth.APIKeyEnv) != "" {
		return nil
	}
	paramName := logging.EnvOrDefault(EnvAPIKeyParam, DefaultAPIKeyParam)
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return errors.New("parameter " + paramName + " has no value")
	}
	os.Setenv(auth.APIKeyEnv, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// NewPlanner builds a planner for model from the resolved API key. Without
// a key, or with one the API rejects during validation, the planner answers
// with fallbacks.
func NewPlanner(ctx context.Context, model string, validate bool) *planner.Planner {
	opts := []planner.Option{planner.WithModel(model)}

	client, err := auth.NewClient(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) {
			log.Warn().Msg("No Gemini API key, plans and explanations use fallbacks")
		} else {
			log.Error().Err(err).Msg("Gemini client unavailable, plans and explanations use fallbacks")
		}
		return planner.New(nil, opts...)
	}
	if validate {
		if err := auth.ValidateAPIKey(ctx, client, model); err != nil {
			log.Error().Err(err).Msg("Gemini API key rejected, plans and explanations use fallbacks")
			return planner.New(nil, opts...)
		}
	}
	return planner.New(client, opts...)
}

// AllowedOrigins splits a comma-separated origin list.
func AllowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// StartupLog returns a startup logger with the init duration recorded.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
