package client

import (
	"bytes"
	"context"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/config"
	"github.com/sidkik/slate-tools/pkg/errors"
)

const defaultS3Region = "us-east-1"

type s3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Client uploads files into an S3 bucket.
type S3Client struct {
	fs      afero.Fs
	distDir string
	bucket  string
	prefix  string

	api s3API
	log *logrus.Logger
}

// NewS3Client creates a client that uploads the files in `distDir` to the
// bucket described by `target`. Credentials and the default region are
// resolved the same way as the AWS CLI, e.g. from the environment, the shared
// config files, or an instance role.
func NewS3Client(ctx context.Context, fs afero.Fs, distDir string, target config.S3Target,
	logger *logrus.Logger) (*S3Client, error) {

	var loadOpts []func(*awsConfig.LoadOptions) error
	if target.Region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(target.Region))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewFriendlyError("Failed to load the AWS configuration "+
			"for syncing to the %q bucket. Check the AWS_PROFILE and the shared "+
			"config files.\n\nThe error was: %s", target.Bucket, err)
	}
	if cfg.Region == "" {
		cfg.Region = defaultS3Region
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if target.Endpoint != "" {
			o.BaseEndpoint = aws.String(target.Endpoint)
			// S3-compatible stores generally don't support virtual hosted
			// buckets.
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		fs:      fs,
		distDir: distDir,
		bucket:  target.Bucket,
		prefix:  target.Prefix,
		api:     api,
		log:     logger,
	}, nil
}

// Sync uploads each file as an object under the configured prefix.
func (c *S3Client) Sync(ctx context.Context, files []string) error {
	return uploadAll(ctx, files, c.upload)
}

func (c *S3Client) upload(ctx context.Context, key string) error {
	contents, err := readFile(c.fs, c.distDir, key)
	if err != nil {
		return err
	}

	objectKey := c.objectKey(key)
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(contents),
		ContentType: aws.String(contentType(key, contents)),
	})
	if err != nil {
		return errors.WithContext(err, "put object")
	}

	c.log.WithField("key", objectKey).Debug("Uploaded object")
	return nil
}

func (c *S3Client) objectKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimSuffix(c.prefix, "/") + "/" + key
}

// IsPublished always returns false since buckets aren't storefronts.
func (c *S3Client) IsPublished(_ context.Context) (bool, error) {
	return false, nil
}

// Close is a no-op.
func (c *S3Client) Close() error {
	return nil
}

func contentType(key string, contents []byte) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	if utf8.Valid(contents) {
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
