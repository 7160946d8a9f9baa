package archive

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/options"
)

// Uploader ships finished journal segments to long-term storage.
type Uploader interface {
	Upload(ctx context.Context, objectName, filePath string) error
}

// MinIOUploader stores segments in an S3-compatible bucket.
type MinIOUploader struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewMinIOUploader creates an uploader backed by an S3-compatible endpoint.
func NewMinIOUploader(opts *options.S3Options) (*MinIOUploader, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOUploader{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
	}, nil
}

func (u *MinIOUploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		// Auto-creation is a convenience for development setups.
		// Production buckets are usually managed by hand.
		log.Info("Bucket does not exist, creating...", "bucket", u.bucketName)
		if err := u.client.MakeBucket(ctx, u.bucketName, minio.MakeBucketOptions{Region: u.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Upload ships one finished segment file to the bucket.
func (u *MinIOUploader) Upload(ctx context.Context, objectName, filePath string) error {
	if err := u.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := u.client.FPutObject(ctx, u.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	return nil
}
