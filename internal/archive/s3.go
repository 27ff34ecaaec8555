package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultExpiry is how long a presigned download link stays valid.
const DefaultExpiry = time.Hour

// projectTag is the URL-encoded S3 object tagging for cost allocation.
const projectTag = "Project=prism"

// KeyPrefix is where bundles are stored in the bucket.
const KeyPrefix = "batches/"

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type getPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store uploads bundles to one bucket.
type Store struct {
	client  objectPutter
	presign getPresigner
	bucket  string
	expiry  time.Duration
}

// NewStore returns a Store for bucket using cfg.
func NewStore(cfg aws.Config, bucket string) *Store {
	client := s3.NewFromConfig(cfg)
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		expiry:  DefaultExpiry,
	}
}

// Bucket returns the target bucket name.
func (s *Store) Bucket() string { return s.bucket }

// BundleKey is the object key for a batch bundle.
func BundleKey(batchID string) string {
	return KeyPrefix + batchID + "/processed_" + batchID + ".zip"
}

// Upload stores a zip bundle under the batch key and returns a presigned GET
// URL for it.
func (s *Store) Upload(ctx context.Context, batchID string, bundle []byte) (string, error) {
	key := BundleKey(batchID)
	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("bytes", len(bundle)).
		Msg("Uploading bundle to S3")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(bundle),
		ContentType: aws.String("application/zip"),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload bundle to S3: %w", err)
	}

	log.Info().Str("key", key).Msg("Bundle uploaded to S3")
	return s.Link(ctx, batchID)
}

// Link returns a fresh presigned GET URL for a batch bundle.
func (s *Store) Link(ctx context.Context, batchID string) (string, error) {
	result, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(BundleKey(batchID)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
