package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// S3Config configures an S3 store.
//
// Authentication follows the AWS SDK v2 default chain unless explicit keys
// are provided. For S3-compatible stores (MinIO, Wasabi), set Endpoint and
// usually ForcePathStyle.
type S3Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Region is the AWS region. Empty lets the SDK resolve it.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared-config profile. Empty uses the default
	// chain.
	Profile string

	// AccessKeyID / SecretAccessKey take precedence over the default
	// chain when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs; required by most
	// S3-compatible stores.
	ForcePathStyle bool

	// UploadRatePerSec caps PutObject calls per second during the sync
	// loop. Zero means unlimited.
	UploadRatePerSec float64
}

// Validate checks required fields.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 config: bucket name is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return errors.New("s3 config: access key id and secret must be provided together")
	}
	return nil
}

// S3Store implements Store against AWS S3 and S3-compatible storage.
type S3Store struct {
	client  *s3.Client
	bucket  string
	limiter *rate.Limiter // nil when uploads are unlimited
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds a store using the SDK default credential chain plus
// any explicit overrides in cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrapOp("load aws config", "", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	st := &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}
	if cfg.UploadRatePerSec > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRatePerSec), 1)
	}
	return st, nil
}

// PrefixSize sums the size of every object under prefix.
func (s *S3Store) PrefixSize(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := s.eachObject(ctx, prefix, func(obj s3types.Object) error {
		total += aws.ToInt64(obj.Size)
		return nil
	})
	return total, err
}

// DownloadPrefix fetches every object under prefix into destDir.
func (s *S3Store) DownloadPrefix(ctx context.Context, prefix, destDir string) error {
	return s.eachObject(ctx, prefix, func(obj s3types.Object) error {
		key := aws.ToString(obj.Key)
		rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if rel == "" {
			return nil
		}
		return s.downloadOne(ctx, key, filepath.Join(destDir, filepath.FromSlash(rel)))
	})
}

func (s *S3Store) downloadOne(ctx context.Context, key, dest string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapOp("get object", key, mapMissing(err))
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return wrapOp("create download dir", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return wrapOp("create download file", dest, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return wrapOp("write download", dest, err)
	}
	return f.Close()
}

// UploadDir pushes every regular file under dir to prefix.
func (s *S3Store) UploadDir(ctx context.Context, dir, prefix string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return s.UploadFile(ctx, p, path.Join(prefix, filepath.ToSlash(rel)))
	})
}

// UploadFile pushes one file to key, honoring the upload rate limit.
func (s *S3Store) UploadFile(ctx context.Context, p, key string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	f, err := os.Open(p)
	if err != nil {
		return wrapOp("open upload", p, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return wrapOp("stat upload", p, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
	})
	if err != nil {
		return wrapOp("put object", key, err)
	}
	return nil
}

// mapMissing folds the provider's absence codes into ErrNotFound so
// callers can errors.Is against one sentinel.
func mapMissing(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s", ErrNotFound, ae.ErrorCode())
		}
	}
	return err
}

func (s *S3Store) eachObject(ctx context.Context, prefix string, fn func(s3types.Object) error) error {
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return wrapOp("list objects", prefix, mapMissing(err))
		}
		for _, obj := range out.Contents {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return nil
		}
		token = out.NextContinuationToken
	}
}
