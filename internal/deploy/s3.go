package deploy

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
)

// DefaultUploads bounds concurrent PutObject calls.
const DefaultUploads = 8

// ObjectPutter is the part of the S3 client used for publishing.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures NewS3Publisher.
type S3Options struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint selects an S3-compatible service; path-style addressing
	// is used when set.
	Endpoint string

	// AccessKey and SecretKey override the default credential chain.
	AccessKey string
	SecretKey string

	Logger *console.Logger
}

// S3Publisher uploads a tree to a bucket under a key prefix.
type S3Publisher struct {
	Client  ObjectPutter
	Bucket  string
	Prefix  string
	Uploads int
	Logger  *console.Logger
}

// NewS3Publisher creates a publisher with a client from the default AWS
// configuration.
func NewS3Publisher(ctx context.Context, opts S3Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, errors.New("E142").WithDetail("No bucket given").
			WithSuggestion("Pass --s3-bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.New("E142").WithDetail("Failed to load AWS configuration").Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{
		Client: client,
		Bucket: opts.Bucket,
		Prefix: opts.Prefix,
		Logger: opts.Logger,
	}, nil
}

// Publish uploads every file below dir. The first failed upload cancels
// the rest.
func (p *S3Publisher) Publish(ctx context.Context, dir string) error {
	files, err := collect(dir)
	if err != nil {
		return errors.New("E142").WithDetail("Failed to read " + dir).Wrap(err)
	}

	limit := p.Uploads
	if limit <= 0 {
		limit = DefaultUploads
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, f := range files {
		key := p.Key(f.Rel)
		g.Go(func() error {
			_, err := p.Client.PutObject(gctx, &s3.PutObjectInput{
				Bucket:       aws.String(p.Bucket),
				Key:          aws.String(key),
				Body:         bytes.NewReader(f.Data),
				ContentType:  aws.String(contentType(f.Rel)),
				CacheControl: aws.String(cacheControl(f.Rel)),
			})
			if err != nil {
				return errors.New("E142").
					WithDetail("Failed to upload " + key).
					WithContext([]string{"s3://" + p.Bucket + "/" + key}).
					Wrap(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if p.Logger != nil {
		p.Logger.Success("Uploaded %d files to s3://%s/%s", len(files), p.Bucket, strings.TrimPrefix(p.Key(""), "/"))
	}
	return nil
}

// Key returns the object key for a tree-relative path.
func (p *S3Publisher) Key(rel string) string {
	prefix := strings.Trim(p.Prefix, "/")
	if prefix == "" {
		return rel
	}
	if rel == "" {
		return prefix + "/"
	}
	return path.Join(prefix, rel)
}
