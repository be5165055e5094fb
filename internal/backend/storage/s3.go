package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sakif/flipbook/internal/backend"
)

// S3Config configures an S3Store.
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Path-style
	// addressing is used whenever it is set.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// BucketPrefix is prepended to logical bucket names ("flipbook-" turns
	// "avatars" into "flipbook-avatars").
	BucketPrefix string
	// PublicBaseURL is where objects can be read anonymously. Defaults to the
	// virtual-hosted AWS URL of each bucket.
	PublicBaseURL string
}

type deleteAPI interface {
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store stores objects in S3. Uploads go through the multipart upload
// manager so large PDFs are streamed in parts.
type S3Store struct {
	cfg      S3Config
	client   deleteAPI
	uploader uploadAPI
}

var _ backend.Storage = (*S3Store)(nil)

// NewS3Store loads AWS configuration (static keys when given, otherwise the
// default credential chain) and creates the store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(cfg, client, manager.NewUploader(client)), nil
}

func newS3Store(cfg S3Config, client deleteAPI, uploader uploadAPI) *S3Store {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &S3Store{cfg: cfg, client: client, uploader: uploader}
}

func (s *S3Store) bucketName(bucket string) string {
	return s.cfg.BucketPrefix + bucket
}

func (s *S3Store) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if err := cleanBucket(bucket); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("storage: uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3Store) PublicURL(bucket, key string) string {
	name := s.bucketName(bucket)
	switch {
	case s.cfg.PublicBaseURL != "":
		return s.cfg.PublicBaseURL + "/" + name + "/" + key
	case s.cfg.Endpoint != "":
		return s.cfg.Endpoint + "/" + name + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", name, s.cfg.Region, key)
	}
}

func (s *S3Store) PathFromURL(bucket, url string) (string, bool) {
	return trimURL(s.PublicURL(bucket, ""), url)
}

// Remove deletes keys in one batch request. Per-key failures reported by S3
// are joined into the returned error.
func (s *S3Store) Remove(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := cleanBucket(bucket); err != nil {
		return err
	}
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		k, err := cleanKey(k)
		if err != nil {
			return err
		}
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucketName(bucket)),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("storage: removing from %s: %w", bucket, err)
	}

	var errs []error
	for _, e := range out.Errors {
		errs = append(errs, fmt.Errorf("storage: removing %s/%s: %s",
			bucket, aws.ToString(e.Key), aws.ToString(e.Message)))
	}
	return errors.Join(errs...)
}
