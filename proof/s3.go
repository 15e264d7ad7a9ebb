package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 keeps proofs as objects in Bucket. References are object keys.
type S3 struct {
	Client ObjectAPI
	Bucket string
	Prefix string
	Now    func() time.Time
}

// NewS3 builds a client from the default AWS credential chain.
func NewS3(ctx context.Context, bucket, region, prefix string) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix, Now: time.Now}, nil
}

func (s *S3) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *S3) Put(ctx context.Context, filename string, r io.Reader) (string, error) {
	key, err := newKey(filename, s.now())
	if err != nil {
		return "", err
	}
	key = s.Prefix + key

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(ContentType(key)),
	})
	if err != nil {
		return "", fmt.Errorf("upload proof to s3: %w", err)
	}
	return key, nil
}

func (s *S3) Open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	key, err := cleanRef(ref)
	if err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(key, s.Prefix) {
		return nil, "", ErrInvalidRef
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("download proof from s3: %w", err)
	}

	ct := aws.ToString(out.ContentType)
	if ct == "" {
		ct = ContentType(key)
	}
	return out.Body, ct, nil
}

var _ Store = (*S3)(nil)
