// Package objectstore stores photo bytes in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Uploader writes objects and resolves their public URLs.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
}

// Config configures the S3 backend.
type Config struct {
	Bucket        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	UsePathStyle  bool
	PublicBaseURL string
	CacheControl  string
}

// putObjectAPI is the subset of *s3.Client used by S3Store.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store implements Uploader on any S3-compatible service (AWS S3, MinIO,
// Supabase storage). Objects are never overwritten.
type S3Store struct {
	client       putObjectAPI
	bucket       string
	endpoint     string
	region       string
	pathStyle    bool
	publicBase   string
	cacheControl string
	log          *zap.Logger
}

// Option configures an S3Store.
type Option func(*S3Store)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(s *S3Store) { s.log = l }
}

// WithClient replaces the S3 client, mainly for tests.
func WithClient(c putObjectAPI) Option {
	return func(s *S3Store) { s.client = c }
}

// NewS3 creates an S3Store from configuration. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg Config, opts ...Option) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("objectstore: bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, eris.New("objectstore: access key and secret key must be set together")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, eris.Wrap(err, "objectstore: parse endpoint")
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = "max-age=3600"
	}

	s := &S3Store{
		bucket:       cfg.Bucket,
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		region:       region,
		pathStyle:    cfg.UsePathStyle,
		publicBase:   strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		cacheControl: cacheControl,
		log:          zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if cfg.AccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, eris.Wrap(err, "objectstore: load aws config")
		}
		s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
			if s.endpoint != "" {
				o.BaseEndpoint = aws.String(s.endpoint)
			}
		})
	}

	return s, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Upload puts data at key. An existing object at key is an error, not an
// overwrite.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return eris.New("objectstore: key is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(s.cacheControl),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return eris.Wrapf(err, "objectstore: put %s", key)
	}

	s.log.Debug("objectstore: uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// PublicURL returns the URL clients use to fetch key. A configured public
// base URL wins; otherwise the URL is derived from the endpoint.
func (s *S3Store) PublicURL(key string) string {
	escaped := escapeKey(key)
	switch {
	case s.publicBase != "":
		return s.publicBase + "/" + escaped
	case s.endpoint != "" && s.pathStyle:
		return s.endpoint + "/" + s.bucket + "/" + escaped
	case s.endpoint != "":
		u, err := url.Parse(s.endpoint)
		if err != nil {
			return s.endpoint + "/" + s.bucket + "/" + escaped
		}
		return u.Scheme + "://" + s.bucket + "." + u.Host + "/" + escaped
	default:
		return "https://" + s.bucket + ".s3." + s.region + ".amazonaws.com/" + escaped
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
