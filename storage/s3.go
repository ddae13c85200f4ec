package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"bldg_sync/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Archiver keeps raw fetched pages so an extraction can be replayed offline
type Archiver interface {
	Archive(ctx context.Context, targetID uuid.UUID, mode string, html []byte) (string, error)
}

// NoOpArchiver discards pages
type NoOpArchiver struct{}

func (NoOpArchiver) Archive(ctx context.Context, targetID uuid.UUID, mode string, html []byte) (string, error) {
	return "", nil
}

// putObjectAPI is the slice of the S3 client used here
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads raw pages to S3-compatible storage
type S3Archiver struct {
	client putObjectAPI
	bucket string
	now    func() time.Time
}

// NewS3Archiver creates an archiver. Endpoint is optional (DO Spaces, R2, MinIO).
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// ArchiveKey is raw/<target>/<mode>/<unix nanos>.html
func ArchiveKey(targetID uuid.UUID, mode string, at time.Time) string {
	return fmt.Sprintf("raw/%s/%s/%d.html", targetID, mode, at.UnixNano())
}

func (a *S3Archiver) Archive(ctx context.Context, targetID uuid.UUID, mode string, html []byte) (string, error) {
	key := ArchiveKey(targetID, mode, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", eris.Wrapf(err, "s3: put %s", key)
	}
	return key, nil
}
