// Package archive stores raw inbound attachments in S3 before they are
// processed, keyed by delivery.
package archive

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Archiver persists raw attachment bytes.
type Archiver interface {
	Put(ctx context.Context, deliveryID, filename string, data []byte) (string, error)
}

// Config configures the S3 archive.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint (MinIO, tests). Enables path-style addressing.
	Endpoint string
	// AccessKeyID and SecretAccessKey are optional; the default credential
	// chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archive writes attachments to prefix/YYYY/MM/DD/<delivery>/<filename>.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
	log    *zap.Logger
}

// New creates an S3Archive.
func New(ctx context.Context, cfg Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("archive: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "archive: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "archive")),
	}, nil
}

// Key builds the object key for an attachment received at t.
func Key(prefix string, t time.Time, deliveryID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "attachment"
	}
	return path.Join(prefix, t.UTC().Format("2006/01/02"), deliveryID, name)
}

// Put uploads data and returns the object key.
func (a *S3Archive) Put(ctx context.Context, deliveryID, filename string, data []byte) (string, error) {
	key := Key(a.prefix, a.now(), deliveryID, filename)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
		Metadata:    map[string]string{"delivery-id": deliveryID},
	})
	if err != nil {
		return "", eris.Wrapf(err, "archive: put %s", key)
	}
	a.log.Debug("attachment archived", zap.String("key", key), zap.Int("bytes", len(data)))
	return key, nil
}
