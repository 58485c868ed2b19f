// Package audit archives committed account merges as JSON objects in S3
// compatible storage.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/google/uuid"
)

// Config locates the archive bucket.
type Config struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Archiver writes one object per merge.
type S3Archiver struct {
	client objectPutter
	bucket string
	logger logging.Logger
}

// NewS3Archiver builds an archiver with static credentials and path-style
// addressing, which is what MinIO expects.
func NewS3Archiver(ctx context.Context, cfg Config, l logging.Logger) (*S3Archiver, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, logger: l.With("module", "audit")}, nil
}

// ObjectKey returns merges/YYYY/MM/DD/<legacyId>-<uuid>.json for rec.
func ObjectKey(rec models.MergeRecord) string {
	d := rec.MergedAt.UTC()
	if d.IsZero() {
		d = time.Now().UTC()
	}
	return fmt.Sprintf("merges/%04d/%02d/%02d/%s-%s.json", d.Year(), d.Month(), d.Day(), rec.LegacyID, uuid.NewString())
}

func (a *S3Archiver) Archive(ctx context.Context, rec models.MergeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode merge record: %w", err)
	}

	key := ObjectKey(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.logger.Debug(ctx, "merge archived", "key", key)
	return nil
}

// NopArchiver drops records. Used when no bucket is configured.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, models.MergeRecord) error { return nil }
