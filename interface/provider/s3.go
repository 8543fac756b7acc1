package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/drnhhl/terragon/service"
)

// S3Config configures the access to s3 buckets.
// Without static credentials, the default aws credential chain is used.
type S3Config struct {
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	// RequesterPays must be set for buckets like usgs-landsat
	RequesterPays bool `toml:"requester_pays"`
}

func parseS3(uri string) (bucket, key string, err error) {
	path := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	return bucket, key, nil
}

func (f *Fetcher) s3Client(ctx context.Context) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if f.S3.Region != "" {
		opts = append(opts, config.WithRegion(f.S3.Region))
	}
	if f.S3.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(f.S3.AccessKeyID, f.S3.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (f *Fetcher) fetchS3(ctx context.Context, uri, localFile string) error {
	bucket, key, err := parseS3(uri)
	if err != nil {
		return service.MakeFatal(fmt.Errorf("fetchS3: %w", err))
	}
	client, err := f.s3Client(ctx)
	if err != nil {
		return fmt.Errorf("fetchS3.%w", err)
	}
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	file, err := os.Create(localFile)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("fetchS3: failed to create file %s: %w", localFile, err))
	}
	defer file.Close()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if f.S3.RequesterPays {
		input.RequestPayer = types.RequestPayerRequester
	}
	if _, err = downloader.Download(ctx, file, input); err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("fetchS3: %w", ErrProductNotFound{uri})
		}
		return service.MakeTemporary(fmt.Errorf("fetchS3: failed to download object %s:%s: %w", bucket, key, err))
	}
	return nil
}
