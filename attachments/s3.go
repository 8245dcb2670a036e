package attachments

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/songzhibin97/license-workflow/types"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket  string
	Region  string
	Prefix  string
	MaxSize int64
}

// S3Store uploads attachments to an S3 bucket.
type S3Store struct {
	client s3iface.S3API
	opts   S3Options
}

// NewS3Client opens an S3 client with static credentials. Empty keys fall
// back to the default credential chain.
func NewS3Client(region, accessKeyID, secretAccessKey string) (s3iface.S3API, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if accessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// NewS3Store wraps an S3 client.
func NewS3Store(client s3iface.S3API, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 attachment store: bucket is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "attachments"
	}
	return &S3Store{client: client, opts: opts}, nil
}

// Store implements Store.
func (s *S3Store) Store(ctx context.Context, desc types.AttachmentDescriptor) (types.AttachmentRef, error) {
	data, err := readBody(desc, s.opts.MaxSize)
	if err != nil {
		return types.AttachmentRef{}, err
	}
	id, key := objectKey(s.opts.Prefix, desc.Kind, desc.Name)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]*string{
			"kind": aws.String(desc.Kind),
			"name": aws.String(desc.Name),
		},
	}
	if desc.ContentType != "" {
		input.ContentType = aws.String(desc.ContentType)
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return types.AttachmentRef{}, fmt.Errorf("failed to upload attachment to S3: %w", err)
	}

	return types.AttachmentRef{
		ID:   id,
		Kind: desc.Kind,
		Name: desc.Name,
		URL:  s.url(key),
	}, nil
}

func (s *S3Store) url(key string) string {
	if s.opts.Region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.opts.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, key)
}
