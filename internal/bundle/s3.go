package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store persists the bundle as a single JSON object in an S3 bucket,
// for users who want their registrations to follow them across machines.
// The usual concurrent-writer caveats apply: last save wins.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	key      string
}

var _ Persistence = (*S3Store)(nil)

// S3Options configures an S3Store. AccessKeyID/SecretAccessKey are
// optional; when empty the default AWS credential chain is used.
type S3Options struct {
	Bucket          string
	Key             string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates an S3-backed persistence for the given bucket/key.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 store requires bucket and key")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		key:      opts.Key,
	}, nil
}

// Load fetches the store object. A missing object yields an empty store.
func (s *S3Store) Load(ctx context.Context) (*Store, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("fetching store object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading store object: %w", err)
	}
	store, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("store object s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return store, nil
}

// Save uploads the full store back to the bucket.
func (s *S3Store) Save(ctx context.Context, store *Store) error {
	data, err := Marshal(store)
	if err != nil {
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading store object: %w", err)
	}
	return nil
}
