package aws

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive writes immutable objects under a single bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
}

func NewS3Archive(cfg sdkaws.Config, bucket string) *S3Archive {
	return &S3Archive{
		client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			// LocalStack serves buckets by path, not by virtual host.
			o.UsePathStyle = true
		}),
		bucket: bucket,
	}
}

// Put stores body at key.
func (a *S3Archive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(a.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
